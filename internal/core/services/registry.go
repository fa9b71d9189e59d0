package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// StepRegistry creates the step records a document has to pass through.
// Static steps come from domain.StaticSteps; destination steps are added
// once the enabled destinations are known.
type StepRegistry struct {
	steps  driven.StepStore
	audit  driven.AuditLog
	logger *slog.Logger
}

// NewStepRegistry creates a registry backed by the given stores.
func NewStepRegistry(steps driven.StepStore, audit driven.AuditLog, logger *slog.Logger) *StepRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRegistry{steps: steps, audit: audit, logger: logger}
}

// Initialize creates one pending record per static step. Calling it again
// for the same document is a no-op.
func (r *StepRegistry) Initialize(ctx context.Context, documentID, runID string) ([]domain.StepName, error) {
	return r.register(ctx, documentID, runID, domain.StaticSteps(), "step registered")
}

// AddDynamicSteps creates pending records for destination steps, skipping
// any that already exist.
func (r *StepRegistry) AddDynamicSteps(ctx context.Context, documentID, runID string, names []domain.StepName) ([]domain.StepName, error) {
	for _, n := range names {
		if !n.IsDestination() {
			return nil, fmt.Errorf("%w: %s is not a destination step", domain.ErrUnknownStep, n)
		}
	}
	return r.register(ctx, documentID, runID, names, "destination step registered")
}

func (r *StepRegistry) register(ctx context.Context, documentID, runID string, names []domain.StepName, message string) ([]domain.StepName, error) {
	if len(names) == 0 {
		return nil, nil
	}

	created, err := r.steps.CreatePending(ctx, documentID, runID, names)
	if err != nil {
		return nil, fmt.Errorf("create step records: %w", err)
	}

	for _, step := range created {
		event := domain.NewAuditEvent(documentID, runID, step, domain.StepStatusPending, message)
		if err := r.audit.Append(ctx, event); err != nil {
			return created, fmt.Errorf("append audit event: %w", err)
		}
	}

	if len(created) > 0 {
		r.logger.Debug("registered steps",
			"document_id", documentID,
			"run_id", runID,
			"count", len(created),
		)
	}
	return created, nil
}
