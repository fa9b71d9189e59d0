package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// DefaultQualityThreshold is the local text quality at which OCR is skipped.
const DefaultQualityThreshold = 0.8

// Orchestrator advances documents through the pipeline one task at a time.
// Each task runs exactly one step; the next static step is queued only after
// the current one succeeded or was skipped.
type Orchestrator struct {
	documents    driven.DocumentStore
	tracker      *StepTracker
	registry     *StepRegistry
	queue        driven.TaskQueue
	layout       *filestore.Layout
	extractors   driven.ExtractorRegistry
	ocr          driven.OCRProvider
	metadata     driven.MetadataExtractor
	embedder     driven.MetadataEmbedder
	destinations driven.DestinationSet
	health       driven.CredentialHealth

	qualityThreshold float64
	excerptLimit     int
	fanOutLimit      int
	enqueueAttempts  int
	enqueueBackoff   time.Duration
	logger           *slog.Logger
}

// OrchestratorConfig holds dependencies for Orchestrator.
type OrchestratorConfig struct {
	Documents    driven.DocumentStore
	Tracker      *StepTracker
	Registry     *StepRegistry
	Queue        driven.TaskQueue
	Layout       *filestore.Layout
	Extractors   driven.ExtractorRegistry
	OCR          driven.OCRProvider       // Optional
	Metadata     driven.MetadataExtractor // Optional
	Embedder     driven.MetadataEmbedder  // Optional
	Destinations driven.DestinationSet
	Health       driven.CredentialHealth // Optional: every credential healthy when nil

	QualityThreshold float64       // default: 0.8
	ExcerptLimit     int           // bytes of extracted text kept in audit detail (default: 4096)
	FanOutLimit      int           // concurrent queue-to-X steps (default: 8)
	EnqueueAttempts  int           // tries per upload enqueue (default: 3)
	EnqueueBackoff   time.Duration // wait before the second try, doubled after (default: 200ms)
	Logger           *slog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.QualityThreshold
	if threshold == 0 {
		threshold = DefaultQualityThreshold
	}
	excerpt := cfg.ExcerptLimit
	if excerpt == 0 {
		excerpt = 4096
	}
	fanOut := cfg.FanOutLimit
	if fanOut == 0 {
		fanOut = 8
	}
	attempts := cfg.EnqueueAttempts
	if attempts == 0 {
		attempts = 3
	}
	backoff := cfg.EnqueueBackoff
	if backoff == 0 {
		backoff = 200 * time.Millisecond
	}

	return &Orchestrator{
		documents:        cfg.Documents,
		tracker:          cfg.Tracker,
		registry:         cfg.Registry,
		queue:            cfg.Queue,
		layout:           cfg.Layout,
		extractors:       cfg.Extractors,
		ocr:              cfg.OCR,
		metadata:         cfg.Metadata,
		embedder:         cfg.Embedder,
		destinations:     cfg.Destinations,
		health:           cfg.Health,
		qualityThreshold: threshold,
		excerptLimit:     excerpt,
		fanOutLimit:      fanOut,
		enqueueAttempts:  attempts,
		enqueueBackoff:   backoff,
		logger:           logger,
	}
}

// stepOutcome is what a step body reports on success.
type stepOutcome struct {
	skipped bool
	message string
	detail  string
}

type stepFunc func(ctx context.Context, doc *domain.Document, task *domain.Task) (*stepOutcome, error)

// HandleStep runs the static step named by a pipeline_step task.
// A returned error asks the queue to retry the task; step failures that
// were recorded as failure are swallowed and return nil.
func (o *Orchestrator) HandleStep(ctx context.Context, task *domain.Task) error {
	step := task.Step()
	fn := o.stepFunc(step)
	if fn == nil {
		o.logger.Error("dropping task for unknown step", "task_id", task.ID, "step", step)
		return nil
	}

	doc, err := o.loadCurrent(ctx, task)
	if doc == nil {
		return err
	}

	advanced, err := o.execute(ctx, task, doc, step, fn)
	if err != nil || !advanced {
		return err
	}

	next := domain.NextStep(step)
	if next == "" {
		return nil
	}
	if err := o.queue.Enqueue(ctx, domain.NewStepTask(doc.ID, task.RunID(), next, task.ForceOCR())); err != nil {
		return domain.Transient(fmt.Errorf("enqueue %s: %w", next, err))
	}
	return nil
}

// HandleUpload runs the upload-to-X step of a destination_upload task.
func (o *Orchestrator) HandleUpload(ctx context.Context, task *domain.Task) error {
	doc, err := o.loadCurrent(ctx, task)
	if doc == nil {
		return err
	}

	name := task.Destination()
	step := domain.UploadStepName(name)
	_, err = o.execute(ctx, task, doc, step, func(ctx context.Context, doc *domain.Document, task *domain.Task) (*stepOutcome, error) {
		return o.upload(ctx, doc, task.RunID(), name)
	})
	return err
}

// loadCurrent loads the task's document. A nil document with a nil error
// means the task no longer applies and should be dropped.
func (o *Orchestrator) loadCurrent(ctx context.Context, task *domain.Task) (*domain.Document, error) {
	logger := o.logger.With("document_id", task.DocumentID(), "run_id", task.RunID(), "task_id", task.ID)

	doc, err := o.documents.Get(ctx, task.DocumentID())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("dropping task for deleted document")
			return nil, nil
		}
		return nil, domain.Transient(fmt.Errorf("load document: %w", err))
	}
	if doc.CurrentRunID != task.RunID() {
		logger.Info("dropping superseded task", "current_run_id", doc.CurrentRunID)
		return nil, nil
	}
	return doc, nil
}

// execute wraps one unit of work with its state transitions. It returns
// true when the step ended in success or skipped.
func (o *Orchestrator) execute(ctx context.Context, task *domain.Task, doc *domain.Document, step domain.StepName, fn stepFunc) (bool, error) {
	runID := task.RunID()
	logger := o.logger.With("document_id", doc.ID, "run_id", runID, "step", step)

	if err := o.tracker.Begin(ctx, doc.ID, runID, step); err != nil {
		if errors.Is(err, domain.ErrSuperseded) {
			logger.Info("run superseded before step start")
			return false, nil
		}
		return false, domain.Transient(err)
	}

	outcome, err := fn(ctx, doc, task)
	if err != nil {
		return false, o.handleFailure(ctx, task, doc.ID, step, err, logger)
	}

	if outcome.skipped {
		err = o.tracker.Skip(ctx, doc.ID, runID, step, outcome.message)
	} else {
		err = o.tracker.Succeed(ctx, doc.ID, runID, step, outcome.message, outcome.detail)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSuperseded) {
			return false, nil
		}
		return false, domain.Transient(err)
	}

	logger.Info("step finished", "skipped", outcome.skipped)
	return true, nil
}

// handleFailure decides between a retry and a recorded failure.
func (o *Orchestrator) handleFailure(ctx context.Context, task *domain.Task, documentID string, step domain.StepName, cause error, logger *slog.Logger) error {
	runID := task.RunID()

	if domain.IsTransient(cause) && task.CanRetry() {
		logger.Warn("transient step error, retrying",
			"attempt", task.Attempts,
			"max_attempts", task.MaxAttempts,
			"error", cause,
		)
		msg := fmt.Sprintf("attempt %d/%d failed, retry scheduled", task.Attempts, task.MaxAttempts)
		if err := o.tracker.Note(ctx, documentID, runID, step, domain.StepStatusInProgress, msg, cause.Error()); err != nil {
			logger.Warn("failed to record retry note", "error", err)
		}
		return cause
	}

	logger.Error("step failed", "error", cause, "transient", domain.IsTransient(cause))
	if err := o.tracker.Fail(ctx, documentID, runID, step, cause); err != nil {
		if errors.Is(err, domain.ErrSuperseded) {
			return nil
		}
		// The failure could not be recorded; retry so it is not lost
		return domain.Transient(err)
	}
	return nil
}

func (o *Orchestrator) stepFunc(step domain.StepName) stepFunc {
	switch step {
	case domain.StepHash:
		return o.verifyHash
	case domain.StepPersistRecord:
		return o.persistRecord
	case domain.StepQualityCheck:
		return o.qualityCheck
	case domain.StepOCR:
		return o.runOCR
	case domain.StepExtractMetadata:
		return o.extractMetadata
	case domain.StepEmbedMetadata:
		return o.embedMetadata
	case domain.StepFinalizeStorage:
		return o.finalizeStorage
	case domain.StepFanOut:
		return o.fanOut
	default:
		return nil
	}
}
