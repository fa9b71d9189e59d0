package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var (
	_ driven.MetadataExtractor = (*MetadataExtractor)(nil)
	_ driven.CredentialProbe   = (*MetadataExtractor)(nil)
)

// MetadataFields are the classification fields requested from the model.
var MetadataFields = []string{"title", "document_type", "correspondent", "document_date", "reference", "summary"}

const defaultMaxInputChars = 12000

const systemPrompt = `You classify business documents. Reply with a single JSON object and nothing else.
Use exactly these string keys: title, document_type, correspondent, document_date, reference, summary.
document_date must be YYYY-MM-DD when a date is present. Use an empty string for anything you cannot determine.`

// MetadataExtractor classifies document text with a chat model.
type MetadataExtractor struct {
	client        llms.Model
	maxInputChars int
	logger        *slog.Logger
}

// NewMetadataExtractor wraps a langchaingo model.
func NewMetadataExtractor(client llms.Model, maxInputChars int, logger *slog.Logger) *MetadataExtractor {
	if maxInputChars <= 0 {
		maxInputChars = defaultMaxInputChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataExtractor{
		client:        client,
		maxInputChars: maxInputChars,
		logger:        logger.With("component", "metadata-extractor"),
	}
}

// Extract returns the classification fields for text.
func (e *MetadataExtractor) Extract(ctx context.Context, text, filename string) (map[string]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Permanent(fmt.Errorf("no text to classify"))
	}
	if len(text) > e.maxInputChars {
		text = text[:e.maxInputChars]
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart("Filename: " + filename + "\n\n" + text)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return nil, domain.Transient(fmt.Errorf("generate content: %w", err))
		}
		if len(response.Choices) < 1 {
			return nil, domain.Transient(fmt.Errorf("model returned no choices"))
		}

		fields, err := parseMetadata(response.Choices[0].Content)
		if err != nil {
			lastErr = err
			e.logger.Warn("unparseable metadata response", "attempt", attempt+1, "error", err)
			continue
		}
		return fields, nil
	}

	return nil, domain.Permanent(fmt.Errorf("parse metadata: %w", lastErr))
}

// CredentialName identifies the LLM credential
func (e *MetadataExtractor) CredentialName() string {
	return "llm"
}

// Probe sends a minimal request to verify the key and endpoint.
func (e *MetadataExtractor) Probe(ctx context.Context) error {
	_, err := e.client.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "ping"),
	}, llms.WithMaxTokens(1))
	return err
}

// parseMetadata accepts the model reply, tolerating code fences and
// non-string values, and keeps only known non-empty fields.
func parseMetadata(reply string) (map[string]string, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(MetadataFields))
	for _, key := range MetadataFields {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out[key] = s
		}
	}
	return out, nil
}
