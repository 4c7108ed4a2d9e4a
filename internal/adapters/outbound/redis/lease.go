// Package redis provides a Redis implementation of the LeaseManager port.
//
// A lease is a key set with NX and a TTL whose value is a random owner token.
// Release deletes the key only while it still holds that token, so a lease that
// expired and was taken over is never freed by its previous owner.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that LeaseManager implements outbound.LeaseManager
var _ outbound.LeaseManager = (*LeaseManager)(nil)

// Config holds Redis lease configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all lease keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis lease configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "lm",
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LeaseManager hands out leases stored in Redis.
type LeaseManager struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
}

// NewLeaseManager connects to Redis using cfg.
func NewLeaseManager(cfg Config, logger *slog.Logger) (*LeaseManager, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewLeaseManagerWithClient(client, cfg.KeyPrefix, logger)
}

// NewLeaseManagerWithClient wraps an existing client.
func NewLeaseManagerWithClient(client redis.UniversalClient, keyPrefix string, logger *slog.Logger) (*LeaseManager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = ConfigDefaults().KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseManager{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With("component", "redis-lease"),
	}, nil
}

// Ping checks the Redis connection.
func (m *LeaseManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (m *LeaseManager) Close() error {
	return m.client.Close()
}

func (m *LeaseManager) leaseKey(key string) string {
	return fmt.Sprintf("%s:lease:%s", m.keyPrefix, key)
}

// Acquire sets the lease key if absent. ok is false when someone else holds it.
func (m *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (outbound.Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}

	token, err := uuid.NewRandom()
	if err != nil {
		return nil, false, fmt.Errorf("generating lease token: %w", err)
	}

	fullKey := m.leaseKey(key)
	ok, err := m.client.SetNX(ctx, fullKey, token.String(), ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", fullKey, err)
	}
	if !ok {
		m.logger.Debug("lease held elsewhere", "key", fullKey)
		return nil, false, nil
	}
	return &lease{manager: m, key: fullKey, token: token.String()}, true, nil
}

type lease struct {
	manager *LeaseManager
	key     string
	token   string
}

func (l *lease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.manager.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.key, err)
	}
	if deleted == 0 {
		l.manager.logger.Warn("lease expired before release", "key", l.key)
	}
	return nil
}
