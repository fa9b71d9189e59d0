package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var (
	_ driven.StepStore = (*MockStepStore)(nil)
	_ driven.AuditLog  = (*MockAuditLog)(nil)
)

// Sequence records writes across mocks so tests can assert ordering.
type Sequence struct {
	mu      sync.Mutex
	entries []string
}

// Record appends an entry.
func (s *Sequence) Record(entry string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (s *Sequence) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.entries...)
}

// MockStepStore is an in-memory StepStore with the same upsert semantics as the Postgres store.
type MockStepStore struct {
	mu   sync.Mutex
	rows map[string]map[domain.StepName]*domain.StepRecord

	// Seq, when set, receives "state:<doc>:<step>:<status>" for every SetStatus
	Seq *Sequence

	// SetStatusFn overrides SetStatus when set (for error injection)
	SetStatusFn func(documentID string, step domain.StepName, update domain.StepUpdate) (*domain.StepRecord, error)
}

// NewMockStepStore creates a new MockStepStore
func NewMockStepStore() *MockStepStore {
	return &MockStepStore{rows: make(map[string]map[domain.StepName]*domain.StepRecord)}
}

func (m *MockStepStore) CreatePending(ctx context.Context, documentID, runID string, steps []domain.StepName) ([]domain.StepName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.rows[documentID]
	if !ok {
		doc = make(map[domain.StepName]*domain.StepRecord)
		m.rows[documentID] = doc
	}

	var created []domain.StepName
	now := time.Now()
	for _, s := range steps {
		if _, exists := doc[s]; exists {
			continue
		}
		doc[s] = &domain.StepRecord{
			DocumentID: documentID,
			Step:       s,
			Kind:       s.Kind(),
			Status:     domain.StepStatusPending,
			RunID:      runID,
			UpdatedAt:  now,
		}
		created = append(created, s)
	}
	return created, nil
}

func (m *MockStepStore) SetStatus(ctx context.Context, documentID string, step domain.StepName, update domain.StepUpdate) (*domain.StepRecord, error) {
	if m.SetStatusFn != nil {
		return m.SetStatusFn(documentID, step, update)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.rows[documentID]
	if !ok {
		doc = make(map[domain.StepName]*domain.StepRecord)
		m.rows[documentID] = doc
	}
	rec, ok := doc[step]
	if !ok {
		rec = &domain.StepRecord{DocumentID: documentID, Step: step, Kind: step.Kind()}
		doc[step] = rec
	}
	if !rec.Matches(update) {
		return nil, domain.ErrStepChanged
	}
	rec.Apply(update, time.Now())
	m.Seq.Record(fmt.Sprintf("state:%s:%s:%s", documentID, step, update.Status))

	cp := *rec
	return &cp, nil
}

func (m *MockStepStore) Get(ctx context.Context, documentID string, step domain.StepName) (*domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.rows[documentID][step]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockStepStore) List(ctx context.Context, documentID string) ([]*domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.StepRecord, 0, len(m.rows[documentID]))
	for _, rec := range m.rows[documentID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (m *MockStepStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.StepRecord
	for _, doc := range m.rows {
		for _, rec := range doc {
			if rec.Status == domain.StepStatusInProgress && rec.StartedAt != nil && rec.StartedAt.Before(cutoff) {
				cp := *rec
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStepStore) CountDocumentsByStatus(ctx context.Context) (map[domain.OverallStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.OverallStatus]int64)
	for _, doc := range m.rows {
		var flags domain.StatusFlags
		for _, rec := range doc {
			flags.Observe(rec.Step, rec.Status)
		}
		counts[flags.Reduce()]++
	}
	return counts, nil
}

func (m *MockStepStore) ListAllPendingDocuments(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, doc := range m.rows {
		if len(doc) == 0 {
			continue
		}
		allPending := true
		for _, rec := range doc {
			if rec.Status != domain.StepStatusPending {
				allPending = false
				break
			}
		}
		if allPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Count returns the number of rows for a document (for uniqueness assertions).
func (m *MockStepStore) Count(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[documentID])
}

// MockAuditLog is an in-memory append-only AuditLog.
type MockAuditLog struct {
	mu     sync.Mutex
	nextID int64
	events []*domain.AuditEvent

	// Seq, when set, receives "audit:<doc>:<step>:<status>" for every Append
	Seq *Sequence

	AppendFn func(event *domain.AuditEvent) error
}

// NewMockAuditLog creates a new MockAuditLog
func NewMockAuditLog() *MockAuditLog {
	return &MockAuditLog{}
}

func (m *MockAuditLog) Append(ctx context.Context, event *domain.AuditEvent) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(event); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	cp := *event
	m.events = append(m.events, &cp)
	m.Seq.Record(fmt.Sprintf("audit:%s:%s:%s", event.DocumentID, event.Step, event.Status))
	return nil
}

func (m *MockAuditLog) ListEvents(ctx context.Context, documentID string) ([]*domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.AuditEvent
	for _, e := range m.events {
		if e.DocumentID == documentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len returns the total number of events.
func (m *MockAuditLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// LastFor returns the most recent event for a (document, step) pair, or nil.
func (m *MockAuditLog) LastFor(documentID string, step domain.StepName) *domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.DocumentID == documentID && e.Step == step {
			cp := *e
			return &cp
		}
	}
	return nil
}
