// Package main runs the order tracker.
//
// It polls the liquidity manager program for whale orders, stores snapshots
// in PostgreSQL, publishes tranche_due events for orders whose interval has
// elapsed and optionally archives each poll to S3. The tracked orders are
// served over HTTP next to the health probes.
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
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/liquidity-manager/internal/adapters/inbound/http"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/cluster"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/postgres"
	s3adapter "github.com/archon-research/liquidity-manager/internal/adapters/outbound/s3"
	snsadapter "github.com/archon-research/liquidity-manager/internal/adapters/outbound/sns"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/telemetry"
	"github.com/archon-research/liquidity-manager/internal/pkg/env"
	"github.com/archon-research/liquidity-manager/internal/pkg/provider"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
	"github.com/archon-research/liquidity-manager/internal/services/order_tracker"
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
	dbURL         string
	topicARN      string
	rpcURL        string
	walletPath    string
	programConfig solana.PublicKey
	bucket        string
	pollInterval  time.Duration
	httpAddr      string
	otlp          string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("order-tracker", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	topicARN := fs.String("topic", "", "SNS topic ARN for tranche_due events")
	rpcURL := fs.String("rpc", "", "cluster RPC URL")
	walletPath := fs.String("wallet", "", "keypair file (only used as fee payer identity)")
	configAddr := fs.String("config", "", "program config account")
	bucket := fs.String("bucket", "", "S3 bucket for poll snapshots (optional)")
	pollInterval := fs.Duration("interval", 0, "poll interval")
	httpAddr := fs.String("http-addr", "", "HTTP listen address for health and order queries")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:        *dbURL,
		topicARN:     *topicARN,
		rpcURL:       *rpcURL,
		walletPath:   *walletPath,
		bucket:       *bucket,
		pollInterval: *pollInterval,
		httpAddr:     *httpAddr,
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

	if *configAddr == "" {
		*configAddr = env.Get("PROGRAM_CONFIG", "")
	}
	if *configAddr == "" {
		return cliConfig{}, fmt.Errorf("program config not provided (use -config flag or PROGRAM_CONFIG env var)")
	}
	key, err := solana.PublicKeyFromBase58(*configAddr)
	if err != nil {
		return cliConfig{}, fmt.Errorf("invalid program config %q: %w", *configAddr, err)
	}
	cfg.programConfig = key

	if cfg.bucket == "" {
		cfg.bucket = env.Get("SNAPSHOT_BUCKET", "")
	}
	if cfg.pollInterval == 0 {
		cfg.pollInterval = env.GetDuration("TRACKER_POLL_INTERVAL", 0)
	}
	if cfg.httpAddr == "" {
		cfg.httpAddr = env.Get("HTTP_ADDR", ":8080")
	}
	cfg.otlp = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(slog.LevelInfo)
	logger.Info("starting order tracker", "rpc", cfg.rpcURL, "config", cfg.programConfig)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  "order-tracker",
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: cfg.otlp,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	metrics, err := telemetry.NewMetrics("order-tracker")
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

	var writer outbound.S3Writer
	if cfg.bucket != "" {
		var s3OptFns []func(*awss3.Options)
		if endpoint := env.Get("AWS_S3_ENDPOINT", ""); endpoint != "" {
			s3OptFns = append(s3OptFns, func(o *awss3.Options) {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			})
		}
		writer = s3adapter.NewWriter(awsCfg, logger, s3OptFns...)
		logger.Info("archiving snapshots", "bucket", cfg.bucket)
	}

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL).WithAppName("order-tracker"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	logger.Info("PostgreSQL connected")

	orders, err := postgres.NewOrderRepository(pool, logger, 0)
	if err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	service, err := order_tracker.NewService(
		order_tracker.Config{
			ProgramConfig: cfg.programConfig,
			PollInterval:  cfg.pollInterval,
			Bucket:        cfg.bucket,
			Metrics:       metrics,
			Logger:        logger,
		},
		client,
		orders,
		events,
		writer,
	)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	var shuttingDown atomic.Bool
	serverCfg := httpadapter.HealthServerConfigDefaults()
	serverCfg.Addr = cfg.httpAddr
	serverCfg.Logger = logger
	server := httpadapter.NewHealthServer(serverCfg, service, &shuttingDown)
	httpadapter.NewHandler(service, logger).RegisterRoutes(server.Mux())
	server.Start()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	logger.Info("service started", "http", cfg.httpAddr)

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
		if err := server.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping http server", "error", err)
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
