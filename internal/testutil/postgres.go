// Package testutil starts the containers integration tests run against.
// Every helper registers its own cleanup with t.Cleanup.
package testutil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/liquidity-manager/db/migrator"
	"github.com/archon-research/liquidity-manager/internal/pkg/retry"
)

const postgresImage = "postgres:17-alpine"

// connectRetry covers the gap between the container reporting ready and the
// server accepting connections on the mapped port.
var connectRetry = retry.Config{
	MaxRetries:     30,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     100 * time.Millisecond,
	BackoffFactor:  1,
}

// StartPostgres runs an empty PostgreSQL container and returns its DSN.
func StartPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("liquidity_manager"),
		postgres.WithUsername("keeper"),
		postgres.WithPassword("keeper"),
		testcontainers.WithWaitStrategy(
			// The entrypoint restarts the server once after init.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	return dsn
}

// ConnectPool opens a pool on dsn, waiting until the server answers a ping.
func ConnectPool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := retry.DoVoid(ctx, connectRetry, retry.Always, nil, func() error {
		return pool.Ping(ctx)
	}); err != nil {
		t.Fatalf("waiting for postgres: %v", err)
	}
	return pool
}

// MigrationsDir is the absolute path of db/migrations.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations")
}

// SetupPostgres returns a pool on a fresh container with every migration applied.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool := ConnectPool(t, StartPostgres(t))
	if err := migrator.New(pool, MigrationsDir(), nil).ApplyAll(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return pool
}
