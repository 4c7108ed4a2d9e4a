package memory

import (
	"context"
	"testing"
	"time"
)

func TestLeaseManager(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewLeaseManager()
	m.now = func() time.Time { return now }

	lease, ok, err := m.Acquire(ctx, "order:a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.Acquire(ctx, "order:a", time.Minute); ok {
		t.Fatal("second acquire should fail while held")
	}
	if _, ok, _ := m.Acquire(ctx, "order:b", time.Minute); !ok {
		t.Fatal("different key should be free")
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Acquire(ctx, "order:a", time.Minute); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLeaseManager_ExpiredLeaseIsReplaced(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewLeaseManager()
	m.now = func() time.Time { return now }

	stale, _, _ := m.Acquire(ctx, "k", time.Second)
	now = now.Add(2 * time.Second)

	if _, ok, _ := m.Acquire(ctx, "k", time.Second); !ok {
		t.Fatal("expired lease should be acquirable")
	}
	// Releasing the stale lease must not free the new holder.
	_ = stale.Release(ctx)
	if _, ok, _ := m.Acquire(ctx, "k", time.Second); ok {
		t.Fatal("stale release freed the current lease")
	}
}
