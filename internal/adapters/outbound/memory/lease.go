package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var _ outbound.LeaseManager = (*LeaseManager)(nil)

// LeaseManager is a process-local LeaseManager.
type LeaseManager struct {
	mu     sync.Mutex
	held   map[string]leaseEntry
	nextID uint64
	now    func() time.Time
}

type leaseEntry struct {
	id      uint64
	expires time.Time
}

// NewLeaseManager creates an empty lease manager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{
		held: make(map[string]leaseEntry),
		now:  time.Now,
	}
}

// Acquire takes key for ttl unless an unexpired lease exists.
func (m *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (outbound.Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}
	m.nextID++
	m.held[key] = leaseEntry{id: m.nextID, expires: now.Add(ttl)}
	return &memoryLease{manager: m, key: key, id: m.nextID}, true, nil
}

type memoryLease struct {
	manager *LeaseManager
	key     string
	id      uint64
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	if e, ok := l.manager.held[l.key]; ok && e.id == l.id {
		delete(l.manager.held, l.key)
	}
	return nil
}
