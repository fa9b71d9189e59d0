package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var (
	_ driven.Destination       = (*MockDestination)(nil)
	_ driven.CredentialProbe   = (*MockDestination)(nil)
	_ driven.DestinationSet    = (*MockDestinationSet)(nil)
	_ driven.Notifier          = (*MockNotifier)(nil)
	_ driven.CredentialHealth  = (*MockCredentialHealth)(nil)
	_ driven.OCRProvider       = (*MockOCRProvider)(nil)
	_ driven.MetadataExtractor = (*MockMetadataExtractor)(nil)
	_ driven.CredentialProbe   = (*MockProbe)(nil)
)

// MockDestination records uploads.
type MockDestination struct {
	mu      sync.Mutex
	name    string
	uploads []*driven.UploadRequest

	UploadFn func(req *driven.UploadRequest) error
	ProbeFn  func() error
}

// NewMockDestination creates a destination with the given name
func NewMockDestination(name string) *MockDestination {
	return &MockDestination{name: name}
}

func (m *MockDestination) Name() string { return m.name }

func (m *MockDestination) Upload(ctx context.Context, req *driven.UploadRequest) error {
	m.mu.Lock()
	m.uploads = append(m.uploads, req)
	m.mu.Unlock()
	if m.UploadFn != nil {
		return m.UploadFn(req)
	}
	return nil
}

func (m *MockDestination) CredentialName() string { return "destination:" + m.name }

func (m *MockDestination) Probe(ctx context.Context) error {
	if m.ProbeFn != nil {
		return m.ProbeFn()
	}
	return nil
}

// Uploads returns how many uploads were attempted.
func (m *MockDestination) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// MockDestinationSet is a fixed destination list.
type MockDestinationSet struct {
	Destinations []driven.Destination
}

func (m *MockDestinationSet) Enabled() []driven.Destination { return m.Destinations }

func (m *MockDestinationSet) Get(name string) driven.Destination {
	for _, d := range m.Destinations {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// MockNotifier collects notifications.
type MockNotifier struct {
	mu   sync.Mutex
	sent []*domain.CredentialNotification
}

func (m *MockNotifier) Notify(ctx context.Context, n *domain.CredentialNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns collected notifications.
func (m *MockNotifier) Sent() []*domain.CredentialNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.CredentialNotification(nil), m.sent...)
}

// Count returns how many notifications of a kind were sent.
func (m *MockNotifier) Count(kind domain.NotificationKind) int {
	n := 0
	for _, s := range m.Sent() {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// MockCredentialHealth marks listed credentials as unhealthy.
type MockCredentialHealth struct {
	Unhealthy map[string]bool
}

func (m *MockCredentialHealth) IsHealthy(name string) bool {
	return !m.Unhealthy[name]
}

// MockProbe is a programmable credential probe.
type MockProbe struct {
	Name    string
	ProbeFn func() error
}

func (m *MockProbe) CredentialName() string { return m.Name }

func (m *MockProbe) Probe(ctx context.Context) error {
	if m.ProbeFn != nil {
		return m.ProbeFn()
	}
	return nil
}

// MockOCRProvider returns fixed text.
type MockOCRProvider struct {
	Text    string
	Quality float64
	Calls   int
	Err     error
}

func (m *MockOCRProvider) Recognize(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return &driven.ExtractedText{Text: m.Text, Quality: m.Quality}, nil
}

// MockMetadataExtractor returns fixed metadata.
type MockMetadataExtractor struct {
	Fields   map[string]string
	Err      error
	LastText string
}

func (m *MockMetadataExtractor) Extract(ctx context.Context, text, filename string) (map[string]string, error) {
	m.LastText = text
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		out[k] = v
	}
	return out, nil
}
