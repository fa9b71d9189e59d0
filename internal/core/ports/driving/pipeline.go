package driving

import (
	"context"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// RunHandle identifies a started pipeline run.
type RunHandle struct {
	DocumentID string `json:"document_id"`
	RunID      string `json:"run_id"`
}

// BatchRequest selects the documents of a batch submission.
type BatchRequest struct {
	DocumentIDs []string `json:"document_ids"`
	// AllPending selects every document whose steps are all still pending
	AllPending bool `json:"all_pending"`
	// ForceOCR re-enters each document at the OCR step instead of the start
	ForceOCR bool `json:"force_ocr"`
}

// QueueHealth is the queue/health view.
type QueueHealth struct {
	Queue       *driven.QueueStats             `json:"queue"`
	Active      int64                          `json:"active"`
	Reserved    int64                          `json:"reserved"`
	Documents   map[domain.OverallStatus]int64 `json:"documents"`
	Credentials []*domain.CredentialState      `json:"credentials"`
}

// PipelineService is the operator surface of the pipeline engine
type PipelineService interface {
	// Reprocess re-runs the whole pipeline from the immutable original.
	// Returns *domain.OriginalMissingError without mutating state when the original is gone.
	Reprocess(ctx context.Context, documentID string) (*RunHandle, error)

	// ReprocessOCR re-runs from the OCR step, bypassing the quality skip.
	ReprocessOCR(ctx context.Context, documentID string) (*RunHandle, error)

	// RetryDestinations re-queues only failed destination steps.
	RetryDestinations(ctx context.Context, documentID string) ([]string, error)

	// SubmitBatch applies the batch throttler to a set of reprocess runs.
	SubmitBatch(ctx context.Context, req BatchRequest) (*domain.BatchResult, error)

	// Status returns the aggregate status and per-step breakdown.
	Status(ctx context.Context, documentID string) (*domain.DocumentDetail, error)

	// QueueHealth returns queue depths and documents by aggregate status.
	QueueHealth(ctx context.Context) (*QueueHealth, error)
}

// Scheduler manages periodic management tasks
type Scheduler interface {
	// Start begins the scheduler loop
	Start(ctx context.Context) error

	// Stop stops the scheduler
	Stop(ctx context.Context) error
}
