package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// Ensure pipelineService implements PipelineService
var _ driving.PipelineService = (*pipelineService)(nil)

// Batch throttling defaults.
const (
	DefaultThrottleThreshold = 20
	DefaultThrottleDelay     = 3 * time.Second
	defaultAllPendingLimit   = 1000
)

// pipelineService implements the operator surface: retries, batches and
// the read-only status views.
type pipelineService struct {
	documents    driven.DocumentStore
	steps        driven.StepStore
	tracker      *StepTracker
	registry     *StepRegistry
	orchestrator *Orchestrator
	queue        driven.TaskQueue
	layout       *filestore.Layout
	destinations driven.DestinationSet
	monitor      *CredentialMonitor

	throttleThreshold int
	throttleDelay     time.Duration
	newRunID          func() string
	logger            *slog.Logger
}

// PipelineServiceConfig holds dependencies for the pipeline service.
type PipelineServiceConfig struct {
	Documents    driven.DocumentStore
	Steps        driven.StepStore
	Tracker      *StepTracker
	Registry     *StepRegistry
	Orchestrator *Orchestrator
	Queue        driven.TaskQueue
	Layout       *filestore.Layout
	Destinations driven.DestinationSet
	Monitor      *CredentialMonitor // Optional: credential states in the health view

	ThrottleThreshold int           // T: batches up to this size are not throttled (default: 20)
	ThrottleDelay     time.Duration // D: spacing between throttled submissions (default: 3s)
	Logger            *slog.Logger
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(cfg PipelineServiceConfig) driving.PipelineService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.ThrottleThreshold
	if threshold == 0 {
		threshold = DefaultThrottleThreshold
	}
	delay := cfg.ThrottleDelay
	if delay == 0 {
		delay = DefaultThrottleDelay
	}

	return &pipelineService{
		documents:         cfg.Documents,
		steps:             cfg.Steps,
		tracker:           cfg.Tracker,
		registry:          cfg.Registry,
		orchestrator:      cfg.Orchestrator,
		queue:             cfg.Queue,
		layout:            cfg.Layout,
		destinations:      cfg.Destinations,
		monitor:           cfg.Monitor,
		throttleThreshold: threshold,
		throttleDelay:     delay,
		newRunID:          uuid.NewString,
		logger:            logger,
	}
}

// Reprocess re-runs the whole pipeline from the immutable original.
func (s *pipelineService) Reprocess(ctx context.Context, documentID string) (*driving.RunHandle, error) {
	return s.startRun(ctx, documentID, domain.StepHash, false, 0)
}

// ReprocessOCR re-runs from the OCR step with the quality skip bypassed.
func (s *pipelineService) ReprocessOCR(ctx context.Context, documentID string) (*driving.RunHandle, error) {
	return s.startRun(ctx, documentID, domain.StepOCR, true, 0)
}

// startRun begins a new run at from. Nothing is mutated when the immutable
// original is missing.
func (s *pipelineService) startRun(ctx context.Context, documentID string, from domain.StepName, forceOCR bool, delay time.Duration) (*driving.RunHandle, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !filestore.Exists(doc.OriginalPath) {
		return nil, &domain.OriginalMissingError{DocumentID: doc.ID, Path: doc.OriginalPath}
	}

	records, err := s.steps.List(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	runID := s.newRunID()
	if err := s.documents.SetRunID(ctx, doc.ID, runID); err != nil {
		return nil, fmt.Errorf("set run id: %w", err)
	}
	s.cancelSuperseded(ctx, doc.ID, runID)

	// A missing static row is created; existing ones re-executed go back to pending
	if _, err := s.registry.Initialize(ctx, doc.ID, runID); err != nil {
		return nil, err
	}
	reset := append([]domain.StepName(nil), domain.StepsFrom(from)...)
	for _, r := range records {
		if r.Step.IsDestination() {
			reset = append(reset, r.Step)
		}
	}
	reason := "reset for reprocess"
	if forceOCR {
		reason = "reset for forced OCR reprocess"
	}
	if err := s.tracker.Reset(ctx, doc.ID, runID, reset, reason); err != nil {
		return nil, err
	}

	// Entering after persist_record needs a fresh working copy of the original
	if from != domain.StepHash && from != domain.StepPersistRecord {
		working, err := s.layout.PrepareWorkingCopy(doc.OriginalPath, doc.ID, doc.Extension())
		if err != nil {
			return nil, fmt.Errorf("prepare working copy: %w", err)
		}
		doc.WorkingPath = working
		doc.CurrentRunID = runID
		doc.UpdatedAt = time.Now()
		if err := s.documents.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("save document: %w", err)
		}
	}

	task := domain.NewStepTask(doc.ID, runID, from, forceOCR)
	task.DelayBy(delay)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", from, err)
	}

	s.logger.Info("pipeline run started",
		"document_id", doc.ID,
		"run_id", runID,
		"from", from,
		"force_ocr", forceOCR,
		"delay", delay,
	)
	return &driving.RunHandle{DocumentID: doc.ID, RunID: runID}, nil
}

// cancelSuperseded cancels queued tasks of earlier runs. Consumers drop
// them anyway; cancelling keeps them out of the pending counts.
func (s *pipelineService) cancelSuperseded(ctx context.Context, documentID, runID string) {
	pending, err := s.queue.ListTasks(ctx, driven.TaskFilter{
		DocumentID: documentID,
		Status:     domain.TaskStatusPending,
	})
	if err != nil {
		s.logger.Warn("list superseded tasks", "document_id", documentID, "error", err)
		return
	}
	for _, task := range pending {
		if task.RunID() == runID {
			continue
		}
		if err := s.queue.CancelTask(ctx, task.ID); err != nil {
			s.logger.Warn("cancel superseded task", "task_id", task.ID, "document_id", documentID, "error", err)
		}
	}
}

// RetryDestinations re-queues only the failed destination sub-sequences.
// Main steps are left untouched.
func (s *pipelineService) RetryDestinations(ctx context.Context, documentID string) ([]string, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	records, err := s.steps.List(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	failed := make(map[string]bool)
	for _, r := range records {
		if r.Step.IsDestination() && r.Status == domain.StepStatusFailure {
			failed[r.Step.Destination()] = true
		}
	}
	if len(failed) == 0 {
		return []string{}, nil
	}

	var (
		dests []driven.Destination
		names []string
		reset []domain.StepName
	)
	for _, d := range s.destinations.Enabled() {
		if !failed[d.Name()] {
			continue
		}
		dests = append(dests, d)
		names = append(names, d.Name())
		reset = append(reset, domain.DestinationStepNames(d.Name())...)
	}
	if len(dests) == 0 {
		return nil, fmt.Errorf("%w: failed destinations are no longer enabled", domain.ErrInvalidInput)
	}

	if err := s.tracker.Reset(ctx, doc.ID, doc.CurrentRunID, reset, "reset for destination retry"); err != nil {
		return nil, err
	}
	s.orchestrator.DispatchDestinations(ctx, doc, doc.CurrentRunID, dests)

	s.logger.Info("destination retry dispatched", "document_id", doc.ID, "destinations", names)
	return names, nil
}

// SubmitBatch starts one full run per document, spaced by the throttle plan.
// A document that cannot be started is reported in its entry; the rest of
// the batch proceeds.
func (s *pipelineService) SubmitBatch(ctx context.Context, req driving.BatchRequest) (*domain.BatchResult, error) {
	ids := req.DocumentIDs
	if req.AllPending {
		pending, err := s.steps.ListAllPendingDocuments(ctx, defaultAllPendingLimit)
		if err != nil {
			return nil, fmt.Errorf("list pending documents: %w", err)
		}
		ids = append(append([]string(nil), ids...), pending...)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrInvalidInput)
	}

	plan := domain.PlanBatch(len(ids), s.throttleThreshold, s.throttleDelay)
	result := &domain.BatchResult{
		Entries:   make([]domain.BatchEntry, len(ids)),
		Throttled: plan.Throttled,
		Spread:    plan.Spread,
	}

	from := domain.StepHash
	if req.ForceOCR {
		from = domain.StepOCR
	}

	for i, id := range ids {
		entry := domain.BatchEntry{DocumentID: id, Delay: plan.Delays[i]}
		handle, err := s.startRun(ctx, id, from, req.ForceOCR, plan.Delays[i])
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.RunID = handle.RunID
		}
		result.Entries[i] = entry
	}

	s.logger.Info("batch submitted",
		"documents", len(ids),
		"throttled", plan.Throttled,
		"spread", plan.Spread,
	)
	return result, nil
}

// recentTaskLimit caps the queue tasks attached to a status view.
const recentTaskLimit = 20

// Status returns the aggregate status and per-step breakdown from the
// current-state store.
func (s *pipelineService) Status(ctx context.Context, documentID string) (*domain.DocumentDetail, error) {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	records, err := s.steps.List(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	steps := make(map[domain.StepName]*domain.StepRecord, len(records))
	for _, r := range records {
		steps[r.Step] = r
	}

	tasks, err := s.queue.ListTasks(ctx, driven.TaskFilter{DocumentID: doc.ID, Limit: recentTaskLimit})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	return &domain.DocumentDetail{
		Document:      doc,
		OverallStatus: domain.ReduceStatus(records),
		Steps:         steps,
		Summary:       domain.Summarize(records),
		FailedStep:    domain.FailedStep(records),
		CanRetry:      filestore.Exists(doc.OriginalPath),
		Tasks:         tasks,
	}, nil
}

// QueueHealth returns queue depths and the document status summary.
func (s *pipelineService) QueueHealth(ctx context.Context) (*driving.QueueHealth, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	counts, err := s.steps.CountDocumentsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	health := &driving.QueueHealth{
		Queue:     stats,
		Active:    stats.ProcessingCount,
		Reserved:  stats.ScheduledCount,
		Documents: counts,
	}
	if s.monitor != nil {
		health.Credentials = s.monitor.States()
	}
	return health, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
