package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*LeaseManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m, err := NewLeaseManagerWithClient(client, "test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestNewLeaseManager_EmptyAddrReturnsError(t *testing.T) {
	_, err := NewLeaseManager(Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "redis address is required") {
		t.Fatalf("expected 'redis address is required' error, got %v", err)
	}
}

func TestNewLeaseManagerWithClient_NilClient(t *testing.T) {
	if _, err := NewLeaseManagerWithClient(nil, "", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestLeaseManager_Exclusive(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	lease, ok, err := m.Acquire(ctx, "order:abc", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("test:lease:order:abc") {
		t.Fatal("expected lease key in redis")
	}
	if ttl := mr.TTL("test:lease:order:abc"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	if _, ok, err := m.Acquire(ctx, "order:abc", time.Minute); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:lease:order:abc") {
		t.Fatal("lease key should be deleted")
	}
	if _, ok, _ := m.Acquire(ctx, "order:abc", time.Minute); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLeaseManager_ReleaseAfterTakeoverKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	stale, ok, _ := m.Acquire(ctx, "order:x", time.Second)
	if !ok {
		t.Fatal("first acquire failed")
	}
	mr.FastForward(2 * time.Second)

	if _, ok, _ := m.Acquire(ctx, "order:x", time.Minute); !ok {
		t.Fatal("expired lease should be acquirable")
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists("test:lease:order:x") {
		t.Fatal("stale release deleted the new owner's lease")
	}
}

func TestLeaseManager_InvalidTTL(t *testing.T) {
	m, _ := newTestManager(t)
	if _, _, err := m.Acquire(context.Background(), "k", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestLeaseManager_RedisDown(t *testing.T) {
	m, mr := newTestManager(t)
	mr.Close()
	if _, _, err := m.Acquire(context.Background(), "k", time.Second); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}
