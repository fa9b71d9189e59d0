package ai

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names accepted in configuration
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LLMSettings configures the metadata extractor model
type LLMSettings struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Model         string
	MaxInputChars int
}

// IsConfigured reports whether enough settings are present to build a model
func (s LLMSettings) IsConfigured() bool {
	return s.Provider != "" && s.Model != ""
}

// OCRSettings configures the remote OCR client
type OCRSettings struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// IsConfigured reports whether an OCR endpoint is set
func (s OCRSettings) IsConfigured() bool {
	return s.BaseURL != ""
}

// Factory creates AI-backed adapters based on configuration
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new AI adapter factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// CreateMetadataExtractor builds the LLM-backed metadata extractor.
// Returns nil, nil when no model is configured.
func (f *Factory) CreateMetadataExtractor(settings LLMSettings) (*MetadataExtractor, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}

	model, err := f.createModel(settings)
	if err != nil {
		return nil, err
	}
	return NewMetadataExtractor(model, settings.MaxInputChars, f.logger), nil
}

// CreateOCR builds the HTTP OCR client. Returns nil, nil when not configured.
func (f *Factory) CreateOCR(settings OCRSettings) (*HTTPOCR, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}
	return NewHTTPOCR(settings.BaseURL, settings.APIKey, settings.Timeout)
}

func (f *Factory) createModel(settings LLMSettings) (llms.Model, error) {
	switch settings.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(settings.Model)}
		if settings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(settings.BaseURL))
		}
		token := settings.APIKey
		if token == "" {
			// Local OpenAI-compatible servers accept any token
			token = "none"
		}
		opts = append(opts, openai.WithToken(token))
		return openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(settings.Model), ollama.WithFormat("json")}
		if settings.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(settings.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", settings.Provider)
	}
}
