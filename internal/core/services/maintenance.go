package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Maintenance runs the management-queue tasks.
type Maintenance struct {
	reconciler *StaleReconciler
	queue      driven.TaskQueue
	retention  time.Duration
	logger     *slog.Logger
}

// NewMaintenance creates the management task handler. Finished queue tasks
// older than retention are purged (default: 7 days).
func NewMaintenance(reconciler *StaleReconciler, queue driven.TaskQueue, retention time.Duration, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	if retention == 0 {
		retention = DefaultTaskRetention
	}
	return &Maintenance{reconciler: reconciler, queue: queue, retention: retention, logger: logger}
}

// Handle runs one management task.
func (m *Maintenance) Handle(ctx context.Context, task *domain.Task) error {
	switch task.Type {
	case domain.TaskTypeReconcileStale:
		n, err := m.reconciler.Sweep(ctx)
		if err != nil {
			return err
		}
		m.logger.Info("stale sweep finished", "reconciled", n)
		return nil
	case domain.TaskTypePurgeTasks:
		n, err := m.queue.PurgeTasks(ctx, m.retention)
		if err != nil {
			return err
		}
		m.logger.Info("purged finished tasks", "count", n, "older_than", m.retention)
		return nil
	default:
		return fmt.Errorf("unknown management task type: %s", task.Type)
	}
}
