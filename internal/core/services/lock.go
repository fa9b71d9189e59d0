package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// runLocked runs fn while holding the named lock. It reports false without
// calling fn when another instance holds the lock. A nil lock runs fn directly.
func runLocked(ctx context.Context, lock driven.DistributedLock, name string, ttl time.Duration, logger *slog.Logger, fn func() error) (bool, error) {
	if lock == nil {
		return true, fn()
	}

	lease, err := lock.TryAcquire(ctx, name, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if lease == nil {
		return false, nil
	}
	defer func() {
		// The caller's context may already be done; release regardless
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release lock", "lock", name, "error", err)
		}
	}()
	return true, fn()
}
