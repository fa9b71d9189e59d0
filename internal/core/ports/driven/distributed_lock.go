package driven

import (
	"context"
	"time"
)

// DistributedLock serializes periodic work (scheduler cycles, stale-step
// sweeps) across docpipe instances.
type DistributedLock interface {
	// TryAcquire takes the named lock without blocking. It returns a nil
	// Lease and a nil error when another holder has the lock. The lease
	// lapses on its own after ttl if it is never released.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}

// Lease is one held lock.
type Lease interface {
	Name() string

	// Release gives the lock up. Releasing a lapsed or already released
	// lease is a no-op.
	Release(ctx context.Context) error
}
