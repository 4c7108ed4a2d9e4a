package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/archon-research/liquidity-manager/db/migrator"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/postgres"
	"github.com/archon-research/liquidity-manager/internal/pkg/env"
)

func main() {
	_ = godotenv.Load(".env")

	dir := flag.String("dir", "./db/migrations", "directory holding the SQL migrations")
	list := flag.Bool("list", false, "print applied migrations after migrating")
	flag.Parse()

	logger := env.NewLogger(slog.LevelInfo)

	connStr, err := env.Require("DATABASE_URL")
	if err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(connStr).WithAppName("migrate"))
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := migrator.New(pool, *dir, logger)
	if err := m.ApplyAll(ctx); err != nil {
		pool.Close()
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	if *list {
		applied, err := m.ListApplied(ctx)
		if err != nil {
			logger.Error("listing migrations", "error", err)
			return
		}
		for _, name := range applied {
			logger.Info("applied", "migration", name)
		}
	}

	logger.Info("all migrations up to date")
}
