package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

const reconcileLockName = "stale-step-sweep"

// Reconciler defaults.
const (
	DefaultStaleAfter        = 30 * time.Minute
	DefaultReconcileInterval = 5 * time.Minute
	DefaultTaskRetention     = 7 * 24 * time.Hour
)

// StaleReconciler fails steps left in_progress longer than staleAfter,
// typically by a worker that crashed mid-step.
type StaleReconciler struct {
	steps      driven.StepStore
	tracker    *StepTracker
	lock       driven.DistributedLock
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	logger     *slog.Logger
}

// StaleReconcilerConfig holds dependencies for StaleReconciler.
type StaleReconcilerConfig struct {
	Steps      driven.StepStore
	Tracker    *StepTracker
	Lock       driven.DistributedLock // Optional: one sweep at a time across instances
	StaleAfter time.Duration          // default: 30m
	BatchSize  int                    // records per sweep (default: 500)
	Logger     *slog.Logger
}

// NewStaleReconciler creates a new reconciler.
func NewStaleReconciler(cfg StaleReconcilerConfig) *StaleReconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleAfter := cfg.StaleAfter
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 500
	}
	return &StaleReconciler{
		steps:      cfg.Steps,
		tracker:    cfg.Tracker,
		lock:       cfg.Lock,
		staleAfter: staleAfter,
		batchSize:  batch,
		now:        time.Now,
		logger:     logger,
	}
}

// Sweep marks every stale in_progress record as failure and returns how
// many were reconciled. It returns 0 without error when another instance
// holds the sweep lock.
func (r *StaleReconciler) Sweep(ctx context.Context) (int, error) {
	reconciled := 0
	ran, err := runLocked(ctx, r.lock, reconcileLockName, r.staleAfter, r.logger, func() error {
		n, err := r.sweep(ctx)
		reconciled = n
		return err
	})
	if err != nil {
		return reconciled, err
	}
	if !ran {
		r.logger.Debug("stale sweep already running elsewhere")
	}
	return reconciled, nil
}

func (r *StaleReconciler) sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.steps.ListStale(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale steps: %w", err)
	}

	reconciled := 0
	for _, rec := range stale {
		cause := fmt.Errorf("step in progress since %s exceeded stale threshold %s", rec.StartedAt.Format(time.RFC3339), r.staleAfter)
		if err := r.tracker.FailStale(ctx, rec, cause); err != nil {
			if errors.Is(err, domain.ErrSuperseded) || errors.Is(err, domain.ErrStepChanged) {
				r.logger.Debug("stale step moved on before sweep", "document_id", rec.DocumentID, "step", rec.Step)
				continue
			}
			r.logger.Error("failed to reconcile stale step",
				"document_id", rec.DocumentID,
				"step", rec.Step,
				"error", err,
			)
			continue
		}
		reconciled++
	}

	if reconciled > 0 {
		r.logger.Warn("reconciled stale steps", "count", reconciled, "stale_after", r.staleAfter)
	}
	return reconciled, nil
}
