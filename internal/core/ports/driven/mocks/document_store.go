package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var _ driven.DocumentStore = (*MockDocumentStore)(nil)

// MockDocumentStore is a mock implementation of DocumentStore for testing
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	byHash    map[string]string

	// GetByHashFn and SaveFn run before the default behaviour; a non-nil
	// error or document from GetByHashFn is returned as is.
	GetByHashFn func(hash string) (*domain.Document, error)
	SaveFn      func(doc *domain.Document) error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
		byHash:    make(map[string]string),
	}
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(doc); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byHash[doc.ContentHash]; ok && doc.ContentHash != "" && id != doc.ID {
		return domain.ErrAlreadyExists
	}
	cp := *doc
	m.documents[doc.ID] = &cp
	if doc.ContentHash != "" {
		m.byHash[doc.ContentHash] = doc.ID
	}
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MockDocumentStore) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	if m.GetByHashFn != nil {
		if doc, err := m.GetByHashFn(hash); doc != nil || err != nil {
			return doc, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.documents[id]
	return &cp, nil
}

func (m *MockDocumentStore) List(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*domain.Document, 0, len(m.documents))
	for _, d := range m.documents {
		cp := *d
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })

	if offset >= len(docs) {
		return []*domain.Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

func (m *MockDocumentStore) SetRunID(ctx context.Context, id, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.CurrentRunID = runID
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.documents[id]; ok {
		delete(m.byHash, doc.ContentHash)
	}
	delete(m.documents, id)
	return nil
}

func (m *MockDocumentStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents), nil
}
