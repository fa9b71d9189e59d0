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

// DefaultDetailLimit caps the detail payload stored on audit events.
const DefaultDetailLimit = 16 * 1024

// StepTracker is the only writer of step state. Every transition is
// written to the state store first and then appended to the audit log, so a
// reader never sees a state without its matching event having been attempted.
type StepTracker struct {
	steps       driven.StepStore
	audit       driven.AuditLog
	detailLimit int
	now         func() time.Time
	logger      *slog.Logger
}

// StepTrackerConfig holds dependencies for StepTracker.
type StepTrackerConfig struct {
	Steps       driven.StepStore
	Audit       driven.AuditLog
	DetailLimit int // bytes of audit detail kept (default: 16KiB)
	Logger      *slog.Logger
}

// NewStepTracker creates a new step tracker.
func NewStepTracker(cfg StepTrackerConfig) *StepTracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.DetailLimit
	if limit == 0 {
		limit = DefaultDetailLimit
	}
	return &StepTracker{
		steps:       cfg.Steps,
		audit:       cfg.Audit,
		detailLimit: limit,
		now:         time.Now,
		logger:      logger,
	}
}

// Begin marks a step in_progress.
func (t *StepTracker) Begin(ctx context.Context, documentID, runID string, step domain.StepName) error {
	now := t.now()
	return t.transition(ctx, documentID, runID, step, domain.StepUpdate{
		Status:    domain.StepStatusInProgress,
		RunID:     runID,
		StartedAt: &now,
	}, "step started", "")
}

// Succeed marks a step success with an optional detail payload.
func (t *StepTracker) Succeed(ctx context.Context, documentID, runID string, step domain.StepName, message, detail string) error {
	now := t.now()
	return t.transition(ctx, documentID, runID, step, domain.StepUpdate{
		Status:      domain.StepStatusSuccess,
		RunID:       runID,
		CompletedAt: &now,
	}, message, detail)
}

// Skip marks a step skipped.
func (t *StepTracker) Skip(ctx context.Context, documentID, runID string, step domain.StepName, reason string) error {
	now := t.now()
	return t.transition(ctx, documentID, runID, step, domain.StepUpdate{
		Status:      domain.StepStatusSkipped,
		RunID:       runID,
		CompletedAt: &now,
	}, reason, "")
}

// Fail marks a step failure and records the error detail.
func (t *StepTracker) Fail(ctx context.Context, documentID, runID string, step domain.StepName, cause error) error {
	now := t.now()
	msg := "step failed"
	detail := ""
	if cause != nil {
		detail = domain.CleanText(cause.Error())
	}
	return t.transition(ctx, documentID, runID, step, domain.StepUpdate{
		Status:      domain.StepStatusFailure,
		RunID:       runID,
		CompletedAt: &now,
		Error:       &detail,
	}, msg, detail)
}

// FailStale fails a step only if it is still the in_progress attempt rec
// describes. A step that moved on meanwhile returns domain.ErrStepChanged.
func (t *StepTracker) FailStale(ctx context.Context, rec *domain.StepRecord, cause error) error {
	now := t.now()
	detail := domain.CleanText(cause.Error())
	return t.transition(ctx, rec.DocumentID, rec.RunID, rec.Step, domain.StepUpdate{
		Status:          domain.StepStatusFailure,
		RunID:           rec.RunID,
		CompletedAt:     &now,
		Error:           &detail,
		ExpectStatus:    domain.StepStatusInProgress,
		ExpectStartedAt: rec.StartedAt,
	}, "step failed", detail)
}

// Reset puts the given steps back to pending for a new run.
func (t *StepTracker) Reset(ctx context.Context, documentID, runID string, steps []domain.StepName, reason string) error {
	for _, step := range steps {
		err := t.transition(ctx, documentID, runID, step, domain.StepUpdate{
			Status: domain.StepStatusPending,
			RunID:  runID,
		}, reason, "")
		if err != nil {
			return err
		}
	}
	return nil
}

// Note appends an audit event without changing state, used for retried
// attempts where the step stays in_progress.
func (t *StepTracker) Note(ctx context.Context, documentID, runID string, step domain.StepName, status domain.StepStatus, message, detail string) error {
	event := domain.NewAuditEvent(documentID, runID, step, status, message).WithDetail(detail, t.detailLimit)
	if err := t.audit.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (t *StepTracker) transition(ctx context.Context, documentID, runID string, step domain.StepName, update domain.StepUpdate, message, detail string) error {
	if _, err := t.steps.SetStatus(ctx, documentID, step, update); err != nil {
		if errors.Is(err, domain.ErrSuperseded) {
			return err
		}
		return fmt.Errorf("set %s %s: %w", step, update.Status, err)
	}

	event := domain.NewAuditEvent(documentID, runID, step, update.Status, message).WithDetail(detail, t.detailLimit)
	if err := t.audit.Append(ctx, event); err != nil {
		t.logger.Error("audit append failed after state write",
			"document_id", documentID,
			"step", step,
			"status", update.Status,
			"error", err,
		)
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetStepStatuses returns every step record of a document keyed by name.
func (t *StepTracker) GetStepStatuses(ctx context.Context, documentID string) (map[domain.StepName]*domain.StepRecord, error) {
	records, err := t.steps.List(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.StepName]*domain.StepRecord, len(records))
	for _, r := range records {
		out[r.Step] = r
	}
	return out, nil
}

// GetOverallStatus reduces the document's step records to one status.
func (t *StepTracker) GetOverallStatus(ctx context.Context, documentID string) (domain.OverallStatus, error) {
	records, err := t.steps.List(ctx, documentID)
	if err != nil {
		return "", err
	}
	return domain.ReduceStatus(records), nil
}

// GetSummary counts step records by status for main and destination steps.
func (t *StepTracker) GetSummary(ctx context.Context, documentID string) (domain.StepSummary, error) {
	records, err := t.steps.List(ctx, documentID)
	if err != nil {
		return domain.StepSummary{}, err
	}
	return domain.Summarize(records), nil
}
