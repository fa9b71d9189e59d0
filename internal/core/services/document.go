package services

import (
	"context"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

// documentService implements the DocumentService interface
type documentService struct {
	documentStore driven.DocumentStore
	audit         driven.AuditLog
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(documentStore driven.DocumentStore, audit driven.AuditLog) driving.DocumentService {
	return &documentService{
		documentStore: documentStore,
		audit:         audit,
	}
}

// Get retrieves a document by ID
func (s *documentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.documentStore.Get(ctx, id)
}

// List retrieves documents with pagination
func (s *documentService) List(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return s.documentStore.List(ctx, limit, offset)
}

// Events returns the audit history of a document, oldest first
func (s *documentService) Events(ctx context.Context, id string) ([]*domain.AuditEvent, error) {
	if _, err := s.documentStore.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListEvents(ctx, id)
}
