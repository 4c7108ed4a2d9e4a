// Package main runs the keeper: an SQS consumer that executes whale order
// tranches against the liquidity manager program.
//
// Requests come from the tranche queue, which the order tracker's SNS topic
// feeds. Executions are recorded in PostgreSQL and announced on the events
// topic. A Redis lease keeps two keepers off the same order.
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
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/liquidity-manager/internal/adapters/inbound/http"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/cluster"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/postgres"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/liquidity-manager/internal/adapters/outbound/sns"
	sqsadapter "github.com/archon-research/liquidity-manager/internal/adapters/outbound/sqs"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/telemetry"
	"github.com/archon-research/liquidity-manager/internal/pkg/env"
	"github.com/archon-research/liquidity-manager/internal/pkg/provider"
	"github.com/archon-research/liquidity-manager/internal/services/keeper"
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
	queueURL   string
	dbURL      string
	topicARN   string
	rpcURL     string
	walletPath string
	redisAddr  string
	healthAddr string
	otlp       string

	accounts   keeper.Accounts
	anchorMint solana.PublicKey
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("keeper", flag.ContinueOnError)
	queueURL := fs.String("queue", "", "SQS queue URL carrying tranche requests")
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	topicARN := fs.String("topic", "", "SNS topic ARN for tranche_executed events")
	rpcURL := fs.String("rpc", "", "cluster RPC URL")
	walletPath := fs.String("wallet", "", "keeper keypair file")
	healthAddr := fs.String("health-addr", "", "health server listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		queueURL:   *queueURL,
		dbURL:      *dbURL,
		topicARN:   *topicARN,
		rpcURL:     *rpcURL,
		walletPath: *walletPath,
		healthAddr: *healthAddr,
	}

	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.queueURL == "" {
		return cliConfig{}, fmt.Errorf("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)")
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
		return cliConfig{}, fmt.Errorf("keeper wallet not provided (use -wallet flag or %s env var)", provider.EnvWallet)
	}

	if cfg.healthAddr == "" {
		cfg.healthAddr = env.Get("HEALTH_ADDR", ":8080")
	}
	cfg.redisAddr = env.Get("REDIS_ADDR", "localhost:6379")
	cfg.otlp = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	keys := []struct {
		name string
		dst  *solana.PublicKey
	}{
		{"VAULT_SHIFT", &cfg.accounts.VaultShift},
		{"VAULT_ANCHOR", &cfg.accounts.VaultAnchor},
		{"KEEPER_TOKEN_ACCOUNT", &cfg.accounts.KeeperToken},
		{"PROGRAM_CONFIG", &cfg.accounts.Config},
		{"PROGRAM_AUTHORITY", &cfg.accounts.ProgramAuthority},
		{"ANCHOR_MINT", &cfg.anchorMint},
	}
	for _, k := range keys {
		raw := env.Get(k.name, "")
		if raw == "" {
			continue
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
	logger.Info("starting keeper", "queue", cfg.queueURL, "rpc", cfg.rpcURL)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:  "keeper",
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: cfg.otlp,
		Disabled:     cfg.otlp == "",
	})
	if err != nil {
		return fmt.Errorf("initialising tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  "keeper",
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: cfg.otlp,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	metrics, err := telemetry.NewMetrics("keeper")
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

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
	logger.Info("cluster connected", "keeper", prov.PublicKey())

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

	var sqsOptFns []func(*awssqs.Options)
	if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
		sqsOptFns = append(sqsOptFns, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	consumer, err := sqsadapter.NewConsumer(awsCfg, sqsadapter.Config{
		QueueURL: cfg.queueURL,
	}, logger, sqsOptFns...)
	if err != nil {
		return fmt.Errorf("creating SQS consumer: %w", err)
	}
	defer consumer.Close()

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

	leases, err := redis.NewLeaseManager(redis.Config{
		Addr:      cfg.redisAddr,
		Password:  env.Get("REDIS_PASSWORD", ""),
		KeyPrefix: "keeper",
	}, logger)
	if err != nil {
		return fmt.Errorf("creating lease manager: %w", err)
	}
	defer leases.Close()
	if err := leases.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("Redis connected", "addr", cfg.redisAddr)

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL).WithAppName("keeper"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	executions, err := postgres.NewExecutionRepository(pool, logger)
	if err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	service, err := keeper.NewService(
		keeper.Config{
			Keeper:       prov.PublicKey(),
			Accounts:     cfg.accounts,
			AnchorMint:   cfg.anchorMint,
			PollInterval: env.GetDuration("KEEPER_POLL_INTERVAL", 0),
			LeaseTTL:     env.GetDuration("KEEPER_LEASE_TTL", 0),
			Metrics:      metrics,
			Logger:       logger,
		},
		consumer,
		client,
		leases,
		executions,
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
	logger.Info("service started, waiting for messages...")

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
