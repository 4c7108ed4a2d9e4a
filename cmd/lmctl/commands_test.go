package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/memory"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/pyth"
	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	lm "github.com/archon-research/liquidity-manager/internal/services/liquidity_manager"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

type testApp struct {
	*app
	ledger *memory.Ledger
	buf    *bytes.Buffer
	signed []solana.PublicKey
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ledger := memory.NewLedger()
	oracle, err := pyth.NewReader(ledger)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := lm.NewEngine(ledger, ledger, oracle, lm.Config{Clock: &fakeClock{now: time.Unix(1_700_000_000, 0)}})
	if err != nil {
		t.Fatal(err)
	}
	ta := &testApp{ledger: ledger, buf: &bytes.Buffer{}}
	ta.app = &app{
		manager: engine,
		prices:  oracle,
		wallet:  key(),
		out:     ta.buf,
		addSigners: func(keys ...solana.PrivateKey) {
			for _, k := range keys {
				ta.signed = append(ta.signed, k.PublicKey())
			}
		},
	}
	return ta
}

// exec runs a command and decodes its JSON output into v.
func (ta *testApp) exec(t *testing.T, name string, v any, args ...string) {
	t.Helper()
	ta.buf.Reset()
	if err := commands[name].run(context.Background(), ta.app, args); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(ta.buf.Bytes(), v); err != nil {
		t.Fatalf("%s: decoding output %q: %v", name, ta.buf.String(), err)
	}
}

func TestInitAndShowConfig(t *testing.T) {
	ta := newTestApp(t)

	var created struct {
		Account solana.PublicKey `json:"account"`
	}
	ta.exec(t, "init", &created, "-bump", "254")
	if created.Account.IsZero() {
		t.Fatal("expected the new config address")
	}
	if len(ta.signed) != 1 || ta.signed[0] != created.Account {
		t.Errorf("config keypair not registered as signer: %v", ta.signed)
	}

	var cfg configOutput
	ta.exec(t, "show-config", &cfg, "-config", created.Account.String())
	if cfg.Owner != ta.wallet {
		t.Errorf("owner: expected %s, got %s", ta.wallet, cfg.Owner)
	}
	if cfg.Bump != 254 {
		t.Errorf("bump: expected 254, got %d", cfg.Bump)
	}
	if cfg.TrancheInterval != entity.DefaultTrancheInterval {
		t.Errorf("interval: expected %d, got %d", entity.DefaultTrancheInterval, cfg.TrancheInterval)
	}
}

func TestInit_BumpOutOfRange(t *testing.T) {
	ta := newTestApp(t)
	err := commands["init"].run(context.Background(), ta.app, []string{"-bump", "300"})
	if err == nil || !strings.Contains(err.Error(), "bump must fit in a byte") {
		t.Fatalf("expected bump error, got %v", err)
	}
}

func TestSubmitExecuteAndShowOrder(t *testing.T) {
	ta := newTestApp(t)
	shiftMint, anchorMint, authority := key(), key(), key()
	sellerShift, vaultShift, vaultAnchor, keeperToken, sellerAnchor := key(), key(), key(), key(), key()

	// The wallet is both seller and keeper here.
	ta.ledger.SetTokenAccount(entity.TokenAccount{Address: sellerShift, Mint: shiftMint, Owner: ta.wallet, Amount: 1_000})
	ta.ledger.SetTokenAccount(entity.TokenAccount{Address: sellerAnchor, Mint: anchorMint, Owner: ta.wallet})
	ta.ledger.SetTokenAccount(entity.TokenAccount{Address: vaultShift, Mint: shiftMint, Owner: authority})
	ta.ledger.SetTokenAccount(entity.TokenAccount{Address: vaultAnchor, Mint: anchorMint, Owner: authority, Amount: 50})
	ta.ledger.SetTokenAccount(entity.TokenAccount{Address: keeperToken, Mint: shiftMint, Owner: ta.wallet})

	var config struct {
		Account solana.PublicKey `json:"account"`
	}
	ta.exec(t, "init", &config)

	var order struct {
		Account solana.PublicKey `json:"account"`
	}
	ta.exec(t, "submit", &order,
		"-seller-token", sellerShift.String(),
		"-vault-shift", vaultShift.String(),
		"-total", "250",
		"-tranche", "100",
	)

	var tranche trancheOutput
	ta.exec(t, "execute", &tranche,
		"-order", order.Account.String(),
		"-vault-shift", vaultShift.String(),
		"-vault-anchor", vaultAnchor.String(),
		"-keeper-token", keeperToken.String(),
		"-seller-anchor", sellerAnchor.String(),
		"-config", config.Account.String(),
		"-authority", authority.String(),
		"-expected", "20",
	)
	if tranche.Tranche != 100 || tranche.KeeperReward != 10 || tranche.AnchorOut != 20 {
		t.Errorf("unexpected plan: %+v", tranche)
	}
	if tranche.Remaining != 150 || !tranche.Active {
		t.Errorf("unexpected order state: %+v", tranche)
	}

	var shown orderOutput
	ta.exec(t, "show-order", &shown, "-order", order.Account.String())
	if shown.Seller != ta.wallet || shown.Remaining != 150 || shown.LastExecuted == nil {
		t.Errorf("unexpected order: %+v", shown)
	}

	var listed []orderOutput
	ta.exec(t, "list-orders", &listed, "-active")
	if len(listed) != 1 || listed[0].Address != order.Account {
		t.Errorf("expected one active order, got %+v", listed)
	}
}

func TestRebaseAndShowPrice(t *testing.T) {
	ta := newTestApp(t)
	price, holders := key(), key()
	ta.ledger.SetAccountData(price, pyth.Encode(pyth.PriceAccount{
		Expo:      -8,
		Timestamp: 1_700_000_000,
		AggPrice:  123_450_000,
		AggConf:   10_000,
		AggStatus: pyth.StatusTrading,
	}))
	ta.ledger.SetHolderCount(holders, 12)

	var config struct {
		Account solana.PublicKey `json:"account"`
	}
	ta.exec(t, "init", &config)

	var rebase rebaseOutput
	ta.exec(t, "rebase", &rebase,
		"-config", config.Account.String(),
		"-price", price.String(),
		"-holders", holders.String(),
	)
	if rebase.ShrinkBP != entity.ShrinkBPFewHolders {
		t.Errorf("shrink: expected %d, got %d", entity.ShrinkBPFewHolders, rebase.ShrinkBP)
	}
	if rebase.Price != strconv.Itoa(123_450_000) {
		t.Errorf("price: expected 123450000, got %s", rebase.Price)
	}

	var feed priceOutput
	ta.exec(t, "show-price", &feed, "-price", price.String())
	if feed.Price != 123_450_000 || feed.Expo != -8 || feed.Conf != 10_000 {
		t.Errorf("unexpected feed: %+v", feed)
	}
	if !feed.PublishTime.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("publish time: got %v", feed.PublishTime)
	}
}

func TestShowOrder_NotFound(t *testing.T) {
	ta := newTestApp(t)
	err := commands["show-order"].run(context.Background(), ta.app, []string{"-order", key().String()})
	if err == nil {
		t.Fatal("expected error for unknown order")
	}
}

func TestRequiredFlags(t *testing.T) {
	tests := []struct {
		command   string
		args      []string
		wantError string
	}{
		{"submit", nil, "missing required flags: -seller-token, -vault-shift"},
		{"execute", []string{"-order", key().String()}, "missing required flags: -authority, -config, -keeper-token, -seller-anchor, -vault-anchor, -vault-shift"},
		{"rebase", []string{"-config", key().String()}, "missing required flags: -holders, -price"},
		{"show-config", nil, "missing required flags: -config"},
		{"show-order", nil, "missing required flags: -order"},
		{"show-price", nil, "missing required flags: -price"},
		{"show-order", []string{"-order", "not-base58-0OIl"}, "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.wantError, func(t *testing.T) {
			ta := newTestApp(t)
			err := commands[tt.command].run(context.Background(), ta.app, tt.args)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantError)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Fatalf("expected error containing %q, got %q", tt.wantError, err.Error())
			}
		})
	}
}

func TestParseGlobal(t *testing.T) {
	program := key()

	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   globalConfig
		wantRest  []string
		wantError string
	}{
		{
			name:     "env defaults",
			args:     []string{"list-orders", "-active"},
			envVars:  map[string]string{"ANCHOR_WALLET": "/keys/id.json"},
			wantCfg:  globalConfig{rpcURL: "http://127.0.0.1:8899", walletPath: "/keys/id.json"},
			wantRest: []string{"list-orders", "-active"},
		},
		{
			name:     "flags override env",
			args:     []string{"-rpc", "https://api.devnet.solana.com", "-wallet", "cli.json", "-program", program.String(), "show-config"},
			envVars:  map[string]string{"ANCHOR_WALLET": "/keys/id.json", "ANCHOR_PROVIDER_URL": "http://env:8899"},
			wantCfg:  globalConfig{rpcURL: "https://api.devnet.solana.com", walletPath: "cli.json", programID: program},
			wantRest: []string{"show-config"},
		},
		{
			name:      "no wallet",
			args:      []string{"list-orders"},
			wantError: "wallet not provided",
		},
		{
			name:      "no command",
			args:      []string{"-wallet", "id.json"},
			wantError: "no command given",
		},
		{
			name:     "simulate needs no wallet",
			args:     []string{"-simulate", "-state", "sim.json", "list-orders"},
			wantCfg:  globalConfig{rpcURL: "http://127.0.0.1:8899", simulate: true, statePath: "sim.json"},
			wantRest: []string{"list-orders"},
		},
		{
			name:      "state without simulate",
			args:      []string{"-wallet", "id.json", "-state", "sim.json", "list-orders"},
			wantError: "-state requires -simulate",
		},
		{
			name:      "bad program id",
			args:      []string{"-wallet", "id.json", "-program", "0", "init"},
			wantError: "invalid program id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANCHOR_WALLET", "")
			t.Setenv("ANCHOR_PROVIDER_URL", "")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, rest, err := parseGlobal(tt.args)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("expected error containing %q, got %v", tt.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg != tt.wantCfg {
				t.Errorf("config: expected %+v, got %+v", tt.wantCfg, cfg)
			}
			if strings.Join(rest, " ") != strings.Join(tt.wantRest, " ") {
				t.Errorf("rest: expected %v, got %v", tt.wantRest, rest)
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-wallet", "unused.json", "frobnicate"}, &out)
	if err == nil || !strings.Contains(err.Error(), `unknown command "frobnicate"`) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRun_MissingWalletFile(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-wallet", t.TempDir() + "/missing.json", "list-orders"}, &out)
	if err == nil {
		t.Fatal("expected error for missing keypair file")
	}
}
