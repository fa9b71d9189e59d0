package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var (
	_ driven.OCRProvider     = (*HTTPOCR)(nil)
	_ driven.CredentialProbe = (*HTTPOCR)(nil)
)

// HTTPOCR calls a remote OCR service over HTTP.
// The service accepts the raw document as the request body and answers
// with the recognised text and a confidence score.
type HTTPOCR struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHTTPOCR creates a new OCR client
func NewHTTPOCR(baseURL, apiKey string, timeout time.Duration) (*HTTPOCR, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("OCR base URL is required")
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &HTTPOCR{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ocrResponse is the response from the OCR API
type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
	Error      *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Recognize sends the file to the OCR service
func (o *HTTPOCR) Recognize(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("read working copy: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/ocr", bytes.NewReader(data))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", mimeType)
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out ocrResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, domain.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	if out.Error != nil {
		return nil, domain.Permanent(fmt.Errorf("OCR API error: %s (type: %s, code: %s)",
			out.Error.Message, out.Error.Type, out.Error.Code))
	}

	return &driven.ExtractedText{Text: out.Text, Quality: out.Confidence}, nil
}

// CredentialName identifies the OCR credential
func (o *HTTPOCR) CredentialName() string {
	return "ocr"
}

// Probe checks the service health endpoint with the configured key
func (o *HTTPOCR) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return classifyStatus(resp.StatusCode)
}

// Close releases idle connections
func (o *HTTPOCR) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *HTTPOCR) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

// classifyStatus maps HTTP status codes onto the retry taxonomy:
// throttling and server errors are transient, other client errors permanent.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return domain.Transient(fmt.Errorf("upstream returned status %d", code))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.Permanent(fmt.Errorf("%w: upstream returned status %d", domain.ErrUnauthorized, code))
	default:
		return domain.Permanent(fmt.Errorf("upstream returned status %d", code))
	}
}

// classifyTransportError treats every transport failure as transient.
func classifyTransportError(err error) error {
	return domain.Transient(fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err))
}
