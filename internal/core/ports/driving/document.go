package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/docpipe/internal/core/domain"
)

// IntakeResult describes what an ingestion produced. A split file yields
// one document per chunk.
type IntakeResult struct {
	Documents []*domain.Document `json:"documents"`
	Split     bool               `json:"split"`
	Duplicate bool               `json:"duplicate"`
}

// IntakeService accepts raw bytes and turns them into tracked documents
type IntakeService interface {
	// Ingest spools, hashes, archives and enqueues a new document.
	// A byte-identical duplicate returns the existing document and domain.ErrAlreadyExists.
	Ingest(ctx context.Context, r io.Reader, filename string) (*IntakeResult, error)

	// IngestFile ingests a file on disk; the file itself is left in place.
	IngestFile(ctx context.Context, path string) (*IntakeResult, error)
}

// DocumentService provides read access to documents and their history
type DocumentService interface {
	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// List retrieves documents with pagination
	List(ctx context.Context, limit, offset int) ([]*domain.Document, error)

	// Events returns the audit history of a document, oldest first
	Events(ctx context.Context, id string) ([]*domain.AuditEvent, error)
}
