package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
)

// StepStore is the durable current-state table: one row per (document, step).
type StepStore interface {
	// CreatePending inserts pending rows for the given steps, skipping any
	// that already exist. Returns the names that were actually created.
	CreatePending(ctx context.Context, documentID, runID string, steps []domain.StepName) ([]domain.StepName, error)

	// SetStatus upserts the row for (document, step) inside a transaction
	// keyed by that pair and returns the resulting record. When the update
	// carries expectations the row no longer meets, it returns
	// domain.ErrStepChanged and writes nothing.
	SetStatus(ctx context.Context, documentID string, step domain.StepName, update domain.StepUpdate) (*domain.StepRecord, error)

	// Get returns a single record or domain.ErrNotFound.
	Get(ctx context.Context, documentID string, step domain.StepName) (*domain.StepRecord, error)

	// List returns all records for a document.
	List(ctx context.Context, documentID string) ([]*domain.StepRecord, error)

	// ListStale returns in_progress records whose started_at is before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.StepRecord, error)

	// CountDocumentsByStatus reduces every document's records and counts documents per aggregate status.
	CountDocumentsByStatus(ctx context.Context) (map[domain.OverallStatus]int64, error)

	// ListAllPendingDocuments returns ids of documents whose every step is pending.
	ListAllPendingDocuments(ctx context.Context, limit int) ([]string, error)
}

// AuditLog is the append-only event sink. Read paths are for history views only.
type AuditLog interface {
	// Append stores an event and assigns its ID.
	Append(ctx context.Context, event *domain.AuditEvent) error

	// ListEvents returns a document's events ordered by time ascending.
	ListEvents(ctx context.Context, documentID string) ([]*domain.AuditEvent, error)
}

// DocumentStore handles document persistence (PostgreSQL)
type DocumentStore interface {
	// Save creates or updates a document
	Save(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetByHash retrieves a document by content hash
	GetByHash(ctx context.Context, hash string) (*domain.Document, error)

	// List retrieves documents with pagination, newest first
	List(ctx context.Context, limit, offset int) ([]*domain.Document, error)

	// SetRunID sets the document's current run identifier
	SetRunID(ctx context.Context, id, runID string) error

	// Delete deletes a document together with its step records
	Delete(ctx context.Context, id string) error

	// Count returns total document count
	Count(ctx context.Context) (int, error)
}
