package outbound

import (
	"context"
	"time"
)

// LeaseManager hands out short-lived exclusive leases keyed by name, so that
// several keeper replicas never act on the same order at once.
type LeaseManager interface {
	// Acquire takes the lease if it is free. ok is false when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lease.
type Lease interface {
	// Release frees the lease if it is still held by this owner.
	Release(ctx context.Context) error
}
