// Package main runs the rebase monitor, which periodically sends
// TriggerRebase, records each signal in PostgreSQL and forwards it to SNS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/liquidity-manager/internal/adapters/inbound/http"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/cluster"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/postgres"
	snsadapter "github.com/archon-research/liquidity-manager/internal/adapters/outbound/sns"
	"github.com/archon-research/liquidity-manager/internal/pkg/env"
	"github.com/archon-research/liquidity-manager/internal/pkg/provider"
	"github.com/archon-research/liquidity-manager/internal/services/rebase_monitor"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL       string
	topicARN    string
	rpcURL      string
	walletPath  string
	config      solana.PublicKey
	pythPrice   solana.PublicKey
	holderCount solana.PublicKey
	interval    time.Duration
	healthAddr  string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("rebase-monitor", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	topicARN := fs.String("topic", "", "SNS topic ARN for rebase_signal events")
	rpcURL := fs.String("rpc", "", "cluster RPC URL")
	walletPath := fs.String("wallet", "", "fee payer keypair file")
	interval := fs.Duration("interval", 0, "time between rebase triggers")
	healthAddr := fs.String("health-addr", "", "health server listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:      *dbURL,
		topicARN:   *topicARN,
		rpcURL:     *rpcURL,
		walletPath: *walletPath,
		interval:   *interval,
		healthAddr: *healthAddr,
	}

	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	if cfg.topicARN == "" {
		cfg.topicARN = env.Get("AWS_SNS_TOPIC_ARN", "")
	}
	if cfg.topicARN == "" {
		return cliConfig{}, fmt.Errorf("topic ARN not provided (use -topic flag or AWS_SNS_TOPIC_ARN env var)")
	}
	if cfg.rpcURL == "" {
		cfg.rpcURL = env.Get(provider.EnvProviderURL, provider.LocalURL)
	}
	if cfg.walletPath == "" {
		cfg.walletPath = env.Get(provider.EnvWallet, "")
	}
	if cfg.walletPath == "" {
		return cliConfig{}, fmt.Errorf("wallet not provided (use -wallet flag or %s env var)", provider.EnvWallet)
	}
	if cfg.interval == 0 {
		cfg.interval = env.GetDuration("REBASE_INTERVAL", 0)
	}
	if cfg.healthAddr == "" {
		cfg.healthAddr = env.Get("HEALTH_ADDR", ":8080")
	}

	keys := []struct {
		name string
		dst  *solana.PublicKey
	}{
		{"PROGRAM_CONFIG", &cfg.config},
		{"PYTH_PRICE_ACCOUNT", &cfg.pythPrice},
		{"HOLDER_COUNT_ACCOUNT", &cfg.holderCount},
	}
	for _, k := range keys {
		raw, err := env.Require(k.name)
		if err != nil {
			return cliConfig{}, err
		}
		key, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return cliConfig{}, fmt.Errorf("invalid %s: %w", k.name, err)
		}
		*k.dst = key
	}

	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(slog.LevelInfo)
	logger.Info("starting rebase monitor", "rpc", cfg.rpcURL, "config", cfg.config)

	wallet, err := provider.LoadKeypairWallet(cfg.walletPath)
	if err != nil {
		return err
	}
	prov, err := provider.Local(provider.WithURL(cfg.rpcURL), provider.WithWallet(wallet))
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	if err := prov.Ping(ctx); err != nil {
		return err
	}

	client, err := cluster.NewClient(prov, cluster.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("creating cluster client: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
	)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	var snsOptFns []func(*awssns.Options)
	if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
		snsOptFns = append(snsOptFns, func(o *awssns.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	events, err := snsadapter.NewEventSink(awssns.NewFromConfig(awsCfg, snsOptFns...), snsadapter.Config{
		TopicARN: cfg.topicARN,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating event sink: %w", err)
	}
	defer events.Close()

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL).WithAppName("rebase-monitor"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rebases, err := postgres.NewRebaseRepository(pool, logger)
	if err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	service, err := rebase_monitor.NewService(
		rebase_monitor.Config{
			ProgramConfig: cfg.config,
			PythPrice:     cfg.pythPrice,
			HolderCount:   cfg.holderCount,
			Interval:      cfg.interval,
			Logger:        logger,
		},
		client,
		rebases,
		events,
	)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	var shuttingDown atomic.Bool
	healthCfg := httpadapter.HealthServerConfigDefaults()
	healthCfg.Addr = cfg.healthAddr
	healthCfg.Logger = logger
	health := httpadapter.NewHealthServer(healthCfg, service, &shuttingDown)
	health.Start()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := service.Stop(); err != nil {
			logger.Error("error stopping service", "error", err)
		}
		if err := health.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping health server", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	return nil
}
