package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/swaggo/swag"

	// Registers the OpenAPI document with swag
	_ "github.com/custodia-labs/docpipe/docs"
	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports dependency health
// @Description Readiness response
type ReadyResponse struct {
	Status       string              `json:"status" example:"ready"`
	Checks       map[string]string   `json:"checks"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// RetryDestinationsResponse lists the destination steps that were re-queued
type RetryDestinationsResponse struct {
	DocumentID string   `json:"document_id"`
	Retried    []string `json:"retried"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the database and, when configured, Redis
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			return
		}
		resp.Checks[name] = "ok"
	}
	check("database", s.db)
	check("redis", s.redisClient)

	if s.capabilities != nil {
		resp.Capabilities = s.capabilities()
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}

// Document endpoints

// handleUpload godoc
// @Summary      Upload a document
// @Description  Ingests a file sent as multipart field "file", or as the raw body with a filename query parameter. A byte-identical duplicate returns the existing document with 409.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file      formData  file    false  "Document"
// @Param        filename  query     string  false  "File name for raw uploads"
// @Success      201  {object}  driving.IntakeResult
// @Failure      400  {object}  ErrorResponse  "Missing file"
// @Failure      409  {object}  driving.IntakeResult  "Duplicate"
// @Router       /documents [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	body, filename, closeFn, err := uploadSource(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFn()

	result, err := s.intake.Ingest(r.Context(), body, filename)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) && result != nil {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// uploadSource returns the upload stream and its file name.
func uploadSource(r *http.Request) (io.Reader, string, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", nil, errors.New("multipart field \"file\" is required")
		}
		return file, filepath.Base(header.Filename), func() { file.Close() }, nil
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		return nil, "", nil, errors.New("filename query parameter is required for raw uploads")
	}
	return r.Body, filepath.Base(filename), func() {}, nil
}

// handleListDocuments godoc
// @Summary      List documents
// @Description  Lists documents newest first
// @Tags         Documents
// @Produce      json
// @Param        limit   query  int  false  "Page size (default 50)"
// @Param        offset  query  int  false  "Offset"
// @Success      200  {array}   domain.Document
// @Router       /documents [get]
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	docs, err := s.documents.List(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument godoc
// @Summary      Get document status
// @Description  Returns the document, its aggregate status and the per-step breakdown
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  domain.DocumentDetail
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id} [get]
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleDocumentEvents godoc
// @Summary      Document audit history
// @Description  Returns every recorded step transition, oldest first
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {array}   domain.AuditEvent
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id}/events [get]
func (s *Server) handleDocumentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.documents.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Pipeline endpoints

// handleReprocess godoc
// @Summary      Reprocess a document
// @Description  Starts a new run from the immutable original
// @Tags         Pipeline
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  driving.RunHandle
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Failure      422  {object}  ErrorResponse  "Immutable original missing"
// @Router       /documents/{id}/reprocess [post]
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	handle, err := s.pipeline.Reprocess(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// handleReprocessOCR godoc
// @Summary      Force OCR
// @Description  Starts a new run at the OCR step, ignoring the text quality score
// @Tags         Pipeline
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  driving.RunHandle
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Failure      422  {object}  ErrorResponse  "Immutable original missing"
// @Router       /documents/{id}/reprocess-ocr [post]
func (s *Server) handleReprocessOCR(w http.ResponseWriter, r *http.Request) {
	handle, err := s.pipeline.ReprocessOCR(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// handleRetryDestinations godoc
// @Summary      Retry failed destinations
// @Description  Re-queues only the failed destination steps; the main pipeline is not re-run
// @Tags         Pipeline
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  RetryDestinationsResponse
// @Failure      404  {object}  ErrorResponse  "Document not found"
// @Router       /documents/{id}/retry-destinations [post]
func (s *Server) handleRetryDestinations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	retried, err := s.pipeline.RetryDestinations(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if retried == nil {
		retried = []string{}
	}
	writeJSON(w, http.StatusAccepted, RetryDestinationsResponse{DocumentID: id, Retried: retried})
}

// handleSubmitBatch godoc
// @Summary      Submit a batch
// @Description  Reprocesses a set of documents; batches above the throttle threshold are spread out over time
// @Tags         Pipeline
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.BatchRequest  true  "Batch selection"
// @Success      202      {object}  domain.BatchResult
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Router       /batches [post]
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req driving.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.AllPending && len(req.DocumentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "document_ids or all_pending is required")
		return
	}

	result, err := s.pipeline.SubmitBatch(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleQueueHealth godoc
// @Summary      Queue health
// @Description  Queue depths, documents by aggregate status and credential state
// @Tags         Pipeline
// @Produce      json
// @Success      200  {object}  driving.QueueHealth
// @Failure      503  {object}  ErrorResponse  "Queue unreachable"
// @Router       /queues [get]
func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.pipeline.QueueHealth(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// Helper functions

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeDomainError maps domain errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNoExtractor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOriginalMissing):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
