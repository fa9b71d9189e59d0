package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

// Mock services for testing

type mockIntake struct {
	ingestFn func(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error)
}

func (m *mockIntake) Ingest(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, r, filename)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIntake) IngestFile(ctx context.Context, path string) (*driving.IntakeResult, error) {
	return nil, errors.New("not implemented")
}

type mockDocuments struct {
	listFn   func(ctx context.Context, limit, offset int) ([]*domain.Document, error)
	eventsFn func(ctx context.Context, id string) ([]*domain.AuditEvent, error)
}

func (m *mockDocuments) Get(ctx context.Context, id string) (*domain.Document, error) {
	return nil, domain.ErrNotFound
}

func (m *mockDocuments) List(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockDocuments) Events(ctx context.Context, id string) ([]*domain.AuditEvent, error) {
	if m.eventsFn != nil {
		return m.eventsFn(ctx, id)
	}
	return nil, nil
}

type mockPipeline struct {
	reprocessFn    func(ctx context.Context, id string) (*driving.RunHandle, error)
	reprocessOCRFn func(ctx context.Context, id string) (*driving.RunHandle, error)
	retryFn        func(ctx context.Context, id string) ([]string, error)
	batchFn        func(ctx context.Context, req driving.BatchRequest) (*domain.BatchResult, error)
	statusFn       func(ctx context.Context, id string) (*domain.DocumentDetail, error)
	healthFn       func(ctx context.Context) (*driving.QueueHealth, error)
}

func (m *mockPipeline) Reprocess(ctx context.Context, id string) (*driving.RunHandle, error) {
	if m.reprocessFn != nil {
		return m.reprocessFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) ReprocessOCR(ctx context.Context, id string) (*driving.RunHandle, error) {
	if m.reprocessOCRFn != nil {
		return m.reprocessOCRFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) RetryDestinations(ctx context.Context, id string) ([]string, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) SubmitBatch(ctx context.Context, req driving.BatchRequest) (*domain.BatchResult, error) {
	if m.batchFn != nil {
		return m.batchFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) Status(ctx context.Context, id string) (*domain.DocumentDetail, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPipeline) QueueHealth(ctx context.Context) (*driving.QueueHealth, error) {
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return nil, errors.New("not implemented")
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

// Test helpers

func newTestServer(deps Deps) *Server {
	if deps.Intake == nil {
		deps.Intake = &mockIntake{}
	}
	if deps.Documents == nil {
		deps.Documents = &mockDocuments{}
	}
	if deps.Pipeline == nil {
		deps.Pipeline = &mockPipeline{}
	}
	cfg := DefaultConfig()
	cfg.Version = "test"
	return NewServer(cfg, deps)
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// Health endpoint tests

func TestHandleHealth(t *testing.T) {
	rr := do(newTestServer(Deps{}), httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		redis    Pinger
		wantCode int
	}{
		{"all healthy", &mockPinger{}, &mockPinger{}, http.StatusOK},
		{"no redis configured", &mockPinger{}, nil, http.StatusOK},
		{"database down", &mockPinger{err: errors.New("connection refused")}, nil, http.StatusServiceUnavailable},
		{"redis down", &mockPinger{}, &mockPinger{err: errors.New("timeout")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Deps{
				DB:    tt.db,
				Redis: tt.redis,
				Capabilities: func() domain.Capabilities {
					return domain.Capabilities{QueueBackend: "redis", OCR: true}
				},
			})
			rr := do(s, httptest.NewRequest("GET", "/ready", nil))

			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			var resp ReadyResponse
			_ = json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Capabilities.QueueBackend != "redis" || !resp.Capabilities.OCR {
				t.Errorf("unexpected capabilities: %+v", resp.Capabilities)
			}
		})
	}
}

func TestHandleVersion(t *testing.T) {
	rr := do(newTestServer(Deps{}), httptest.NewRequest("GET", "/version", nil))

	var resp map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["version"] != "test" {
		t.Errorf("expected version test, got %s", resp["version"])
	}
}

func TestHandleSwaggerDoc(t *testing.T) {
	rr := do(newTestServer(Deps{}), httptest.NewRequest("GET", "/swagger/doc.json", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var doc map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("doc is not valid JSON: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/documents/{id}/retry-destinations"]; !ok {
		t.Error("expected retry-destinations route in the API document")
	}
}

// Upload tests

func TestHandleUpload_Multipart(t *testing.T) {
	var gotName, gotBody string
	s := newTestServer(Deps{Intake: &mockIntake{
		ingestFn: func(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error) {
			data, _ := io.ReadAll(r)
			gotName, gotBody = filename, string(data)
			return &driving.IntakeResult{Documents: []*domain.Document{{ID: "doc-1"}}}, nil
		},
	}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "../../invoice.pdf")
	_, _ = part.Write([]byte("%PDF-1.7"))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := do(s, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotName != "invoice.pdf" {
		t.Errorf("expected sanitized filename, got %q", gotName)
	}
	if gotBody != "%PDF-1.7" {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestHandleUpload_Raw(t *testing.T) {
	s := newTestServer(Deps{Intake: &mockIntake{
		ingestFn: func(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error) {
			return &driving.IntakeResult{Documents: []*domain.Document{{ID: "doc-1", OriginalFilename: filename}}}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("POST", "/api/v1/documents?filename=notes.txt", strings.NewReader("hello")))
	if rr.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rr.Code)
	}

	rr = do(s, httptest.NewRequest("POST", "/api/v1/documents", strings.NewReader("hello")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without filename, got %d", rr.Code)
	}
}

func TestHandleUpload_Duplicate(t *testing.T) {
	s := newTestServer(Deps{Intake: &mockIntake{
		ingestFn: func(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error) {
			return &driving.IntakeResult{Documents: []*domain.Document{{ID: "existing"}}, Duplicate: true}, domain.ErrAlreadyExists
		},
	}})

	rr := do(s, httptest.NewRequest("POST", "/api/v1/documents?filename=a.txt", strings.NewReader("x")))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var resp driving.IntakeResult
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Duplicate || len(resp.Documents) != 1 || resp.Documents[0].ID != "existing" {
		t.Errorf("expected the existing document in the body, got %+v", resp)
	}
}

// Document tests

func TestHandleGetDocument(t *testing.T) {
	s := newTestServer(Deps{Pipeline: &mockPipeline{
		statusFn: func(ctx context.Context, id string) (*domain.DocumentDetail, error) {
			if id != "doc-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.DocumentDetail{
				Document:      &domain.Document{ID: id},
				OverallStatus: domain.OverallCompletedWithErrors,
			}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("GET", "/api/v1/documents/doc-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var detail domain.DocumentDetail
	_ = json.NewDecoder(rr.Body).Decode(&detail)
	if detail.OverallStatus != domain.OverallCompletedWithErrors {
		t.Errorf("unexpected overall status %q", detail.OverallStatus)
	}

	rr = do(s, httptest.NewRequest("GET", "/api/v1/documents/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandleListDocuments_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	s := newTestServer(Deps{Documents: &mockDocuments{
		listFn: func(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}})

	rr := do(s, httptest.NewRequest("GET", "/api/v1/documents?limit=10&offset=20", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 10 || gotOffset != 20 {
		t.Errorf("expected limit 10 offset 20, got %d %d", gotLimit, gotOffset)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", rr.Body.String())
	}

	_ = do(s, httptest.NewRequest("GET", "/api/v1/documents?limit=abc", nil))
	if gotLimit != 50 {
		t.Errorf("expected default limit for bad input, got %d", gotLimit)
	}
}

func TestHandleDocumentEvents(t *testing.T) {
	s := newTestServer(Deps{Documents: &mockDocuments{
		eventsFn: func(ctx context.Context, id string) ([]*domain.AuditEvent, error) {
			return []*domain.AuditEvent{
				{ID: 1, DocumentID: id, Step: domain.StepHash, Status: domain.StepStatusInProgress},
				{ID: 2, DocumentID: id, Step: domain.StepHash, Status: domain.StepStatusSuccess},
			}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("GET", "/api/v1/documents/doc-1/events", nil))
	var events []domain.AuditEvent
	_ = json.NewDecoder(rr.Body).Decode(&events)
	if len(events) != 2 || events[1].Status != domain.StepStatusSuccess {
		t.Errorf("unexpected events: %+v", events)
	}
}

// Pipeline tests

func TestHandleReprocess_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"original missing", &domain.OriginalMissingError{DocumentID: "doc-1", Path: "/archive/x"}, http.StatusUnprocessableEntity},
		{"queue down", domain.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Deps{Pipeline: &mockPipeline{
				reprocessFn: func(ctx context.Context, id string) (*driving.RunHandle, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &driving.RunHandle{DocumentID: id, RunID: "run-2"}, nil
				},
			}})

			rr := do(s, httptest.NewRequest("POST", "/api/v1/documents/doc-1/reprocess", nil))
			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

func TestHandleReprocessOCR(t *testing.T) {
	called := ""
	s := newTestServer(Deps{Pipeline: &mockPipeline{
		reprocessOCRFn: func(ctx context.Context, id string) (*driving.RunHandle, error) {
			called = id
			return &driving.RunHandle{DocumentID: id, RunID: "run-3"}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("POST", "/api/v1/documents/doc-9/reprocess-ocr", nil))
	if rr.Code != http.StatusAccepted || called != "doc-9" {
		t.Errorf("expected forced OCR for doc-9, code=%d called=%q", rr.Code, called)
	}
}

func TestHandleRetryDestinations(t *testing.T) {
	s := newTestServer(Deps{Pipeline: &mockPipeline{
		retryFn: func(ctx context.Context, id string) ([]string, error) {
			return []string{"upload-to-cloud"}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("POST", "/api/v1/documents/doc-1/retry-destinations", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp RetryDestinationsResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.DocumentID != "doc-1" || len(resp.Retried) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleSubmitBatch(t *testing.T) {
	var got driving.BatchRequest
	s := newTestServer(Deps{Pipeline: &mockPipeline{
		batchFn: func(ctx context.Context, req driving.BatchRequest) (*domain.BatchResult, error) {
			got = req
			return &domain.BatchResult{Throttled: true}, nil
		},
	}})

	body := `{"document_ids":["a","b"],"force_ocr":true}`
	rr := do(s, httptest.NewRequest("POST", "/api/v1/batches", strings.NewReader(body)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(got.DocumentIDs) != 2 || !got.ForceOCR {
		t.Errorf("request not passed through: %+v", got)
	}

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"empty selection", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(s, httptest.NewRequest("POST", "/api/v1/batches", strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestHandleQueueHealth(t *testing.T) {
	s := newTestServer(Deps{Pipeline: &mockPipeline{
		healthFn: func(ctx context.Context) (*driving.QueueHealth, error) {
			return &driving.QueueHealth{
				Queue:     &driven.QueueStats{},
				Active:    2,
				Documents: map[domain.OverallStatus]int64{domain.OverallProcessing: 3},
			}, nil
		},
	}})

	rr := do(s, httptest.NewRequest("GET", "/api/v1/queues", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health driving.QueueHealth
	_ = json.NewDecoder(rr.Body).Decode(&health)
	if health.Active != 2 || health.Documents[domain.OverallProcessing] != 3 {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestMutatingRoutesRequireOperatorToken(t *testing.T) {
	s := newTestServer(Deps{Verifier: rejectAll{}})

	routes := []string{
		"/api/v1/documents?filename=a.txt",
		"/api/v1/documents/doc-1/reprocess",
		"/api/v1/documents/doc-1/reprocess-ocr",
		"/api/v1/documents/doc-1/retry-destinations",
		"/api/v1/batches",
	}
	for _, route := range routes {
		rr := do(s, httptest.NewRequest("POST", route, strings.NewReader("{}")))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", route, rr.Code)
		}
	}

	// Reads stay open
	rr := do(s, httptest.NewRequest("GET", "/api/v1/documents", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected reads to be open, got %d", rr.Code)
	}
}

type rejectAll struct{}

func (rejectAll) GenerateToken(*domain.OperatorClaims) (string, error) { return "", nil }
func (rejectAll) ParseToken(string) (*domain.OperatorClaims, error) {
	return nil, domain.ErrUnauthorized
}
