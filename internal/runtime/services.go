package runtime

import (
	"io"
	"sort"
	"sync"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DestinationSet = (*Services)(nil)

// Services holds the configured destinations and upstream providers.
// Destinations can be added, disabled or replaced while the pipeline runs;
// documents fan out to whatever is enabled when their fan_out step executes.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	// Config tracks capability flags
	config *domain.RuntimeConfig

	destinations map[string]driven.Destination
	enabled      map[string]bool

	// Optional providers (can be nil)
	ocr      driven.OCRProvider
	metadata driven.MetadataExtractor
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig) *Services {
	return &Services{
		config:       config,
		destinations: make(map[string]driven.Destination),
		enabled:      make(map[string]bool),
	}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// SetDestination registers or replaces a destination. A replaced
// destination is closed if it holds resources.
func (s *Services) SetDestination(dest driven.Destination, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := dest.Name()
	if old, ok := s.destinations[name]; ok && old != dest {
		closeQuietly(old)
	}
	s.destinations[name] = dest
	s.enabled[name] = enabled
}

// SetEnabled toggles a registered destination. Returns ErrNotFound for an
// unknown name.
func (s *Services) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.destinations[name]; !ok {
		return domain.ErrNotFound
	}
	s.enabled[name] = enabled
	return nil
}

// RemoveDestination unregisters and closes a destination.
func (s *Services) RemoveDestination(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dest, ok := s.destinations[name]; ok {
		closeQuietly(dest)
	}
	delete(s.destinations, name)
	delete(s.enabled, name)
}

// Enabled returns the enabled destinations sorted by name.
func (s *Services) Enabled() []driven.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.destinations))
	for name := range s.destinations {
		if s.enabled[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]driven.Destination, len(names))
	for i, name := range names {
		out[i] = s.destinations[name]
	}
	return out
}

// Get returns a registered destination, enabled or not, or nil.
// Disabled destinations stay reachable so that in-flight uploads and
// narrow retries can finish.
func (s *Services) Get(name string) driven.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destinations[name]
}

// DestinationInfo describes a registered destination.
type DestinationInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Destinations lists every registered destination sorted by name.
func (s *Services) Destinations() []DestinationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DestinationInfo, 0, len(s.destinations))
	for name := range s.destinations {
		out = append(out, DestinationInfo{Name: name, Enabled: s.enabled[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OCR returns the OCR provider (may be nil)
func (s *Services) OCR() driven.OCRProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ocr
}

// Metadata returns the metadata extractor (may be nil)
func (s *Services) Metadata() driven.MetadataExtractor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// SetOCR updates the OCR provider.
// Closes the old provider if present. Updates config flags.
func (s *Services) SetOCR(p driven.OCRProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ocr != nil && s.ocr != p {
		closeQuietly(s.ocr)
	}
	s.ocr = p
	s.config.SetOCRAvailable(p != nil)
}

// SetMetadata updates the metadata extractor.
// Closes the old extractor if present. Updates config flags.
func (s *Services) SetMetadata(m driven.MetadataExtractor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metadata != nil && s.metadata != m {
		closeQuietly(s.metadata)
	}
	s.metadata = m
	s.config.SetLLMAvailable(m != nil)
}

// Probes returns a credential probe for every registered destination and
// provider that supports one. Disabled destinations are still probed so
// that an operator sees their credential state before enabling them.
func (s *Services) Probes() []driven.CredentialProbe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.destinations))
	for name := range s.destinations {
		names = append(names, name)
	}
	sort.Strings(names)

	var probes []driven.CredentialProbe
	for _, name := range names {
		if p, ok := s.destinations[name].(driven.CredentialProbe); ok {
			probes = append(probes, p)
		}
	}
	if p, ok := s.ocr.(driven.CredentialProbe); ok {
		probes = append(probes, p)
	}
	if p, ok := s.metadata.(driven.CredentialProbe); ok {
		probes = append(probes, p)
	}
	return probes
}

// CredentialChanged keeps the capability flags in line with the credential
// monitor. It is meant to be passed as CredentialMonitorConfig.OnChange.
func (s *Services) CredentialChanged(name string, healthy bool) {
	s.mu.RLock()
	ocr, metadata := s.ocr, s.metadata
	s.mu.RUnlock()

	if p, ok := ocr.(driven.CredentialProbe); ok && p.CredentialName() == name {
		s.config.SetOCRAvailable(healthy)
	}
	if p, ok := metadata.(driven.CredentialProbe); ok && p.CredentialName() == name {
		s.config.SetLLMAvailable(healthy)
	}
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, dest := range s.destinations {
		closeQuietly(dest)
		delete(s.destinations, name)
		delete(s.enabled, name)
	}
	if s.ocr != nil {
		closeQuietly(s.ocr)
		s.ocr = nil
	}
	if s.metadata != nil {
		closeQuietly(s.metadata)
		s.metadata = nil
	}

	s.config.SetOCRAvailable(false)
	s.config.SetLLMAvailable(false)

	return nil
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
