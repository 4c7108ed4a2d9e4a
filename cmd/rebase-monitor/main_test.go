package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func TestParseConfig(t *testing.T) {
	config := solana.NewWallet().PublicKey()
	price := solana.NewWallet().PublicKey()
	holders := solana.NewWallet().PublicKey()

	accounts := map[string]string{
		"PROGRAM_CONFIG":       config.String(),
		"PYTH_PRICE_ACCOUNT":   price.String(),
		"HOLDER_COUNT_ACCOUNT": holders.String(),
		"DATABASE_URL":         "postgres://localhost/lm",
		"AWS_SNS_TOPIC_ARN":    "arn:rebase",
		"ANCHOR_WALLET":        "/keys/monitor.json",
	}
	with := func(k, v string) map[string]string {
		out := map[string]string{}
		for key, val := range accounts {
			out[key] = val
		}
		out[k] = v
		return out
	}

	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   cliConfig
		wantError string
	}{
		{
			name:    "env vars",
			envVars: accounts,
			wantCfg: cliConfig{
				dbURL:       "postgres://localhost/lm",
				topicARN:    "arn:rebase",
				rpcURL:      "http://127.0.0.1:8899",
				walletPath:  "/keys/monitor.json",
				config:      config,
				pythPrice:   price,
				holderCount: holders,
				healthAddr:  ":8080",
			},
		},
		{
			name:    "interval flag",
			args:    []string{"-interval", "30m", "-db", "postgres://cli/lm"},
			envVars: accounts,
			wantCfg: cliConfig{
				dbURL:       "postgres://cli/lm",
				topicARN:    "arn:rebase",
				rpcURL:      "http://127.0.0.1:8899",
				walletPath:  "/keys/monitor.json",
				config:      config,
				pythPrice:   price,
				holderCount: holders,
				interval:    30 * time.Minute,
				healthAddr:  ":8080",
			},
		},
		{
			name:      "missing price account",
			envVars:   with("PYTH_PRICE_ACCOUNT", ""),
			wantError: "PYTH_PRICE_ACCOUNT environment variable is required",
		},
		{
			name:      "invalid holder count account",
			envVars:   with("HOLDER_COUNT_ACCOUNT", "nope0"),
			wantError: "invalid HOLDER_COUNT_ACCOUNT",
		},
		{
			name:      "missing database URL",
			envVars:   with("DATABASE_URL", ""),
			wantError: "database URL not provided",
		},
		{
			name:      "missing wallet",
			envVars:   with("ANCHOR_WALLET", ""),
			wantError: "wallet not provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ANCHOR_PROVIDER_URL", "REBASE_INTERVAL", "HEALTH_ADDR"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig(tt.args)

			if tt.wantError != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantError)
				}
				if !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("expected error containing %q, got %q", tt.wantError, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg != tt.wantCfg {
				t.Errorf("expected %+v, got %+v", tt.wantCfg, cfg)
			}
		})
	}
}
