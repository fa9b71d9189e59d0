package domain

import "sync"

// RuntimeConfig tracks which backends and upstream services are available at runtime.
// Backends are fixed at startup; service flags follow credential probes.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend string // "redis" or "postgres"

	ocrAvailable bool
	llmAvailable bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend: queueBackend,
	}
}

// OCRAvailable returns whether a remote OCR provider is configured and healthy
func (c *RuntimeConfig) OCRAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ocrAvailable
}

// LLMAvailable returns whether the metadata extractor is configured and healthy
func (c *RuntimeConfig) LLMAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.llmAvailable
}

// SetOCRAvailable updates the OCR availability flag
func (c *RuntimeConfig) SetOCRAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ocrAvailable = available
}

// SetLLMAvailable updates the LLM availability flag
func (c *RuntimeConfig) SetLLMAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmAvailable = available
}

// Capabilities is a snapshot for health endpoints.
type Capabilities struct {
	QueueBackend string `json:"queue_backend"`
	OCR          bool   `json:"ocr"`
	LLM          bool   `json:"llm"`
}

// Snapshot returns the current capabilities.
func (c *RuntimeConfig) Snapshot() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Capabilities{
		QueueBackend: c.QueueBackend,
		OCR:          c.ocrAvailable,
		LLM:          c.llmAvailable,
	}
}
