package http

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// CapabilitiesFunc reports which optional upstream services are available.
type CapabilitiesFunc func() domain.Capabilities

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	maxUpload  int64

	// Services
	intake    driving.IntakeService
	documents driving.DocumentService
	pipeline  driving.PipelineService

	// Infrastructure
	verifier     driven.TokenVerifier // nil disables operator auth
	capabilities CapabilitiesFunc
	db           Pinger // PostgreSQL health check
	redisClient  Pinger // Redis health check (optional)
	logger       *slog.Logger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	// MaxUploadBytes caps the request body of document uploads
	MaxUploadBytes int64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		MaxUploadBytes: 512 << 20,
	}
}

// Deps bundles the services the server exposes.
type Deps struct {
	Intake       driving.IntakeService
	Documents    driving.DocumentService
	Pipeline     driving.PipelineService
	Verifier     driven.TokenVerifier // optional
	Capabilities CapabilitiesFunc     // optional
	DB           Pinger
	Redis        Pinger // optional
	Logger       *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Deps) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultConfig().MaxUploadBytes
	}

	s := &Server{
		router:       http.NewServeMux(),
		version:      cfg.Version,
		maxUpload:    maxUpload,
		intake:       deps.Intake,
		documents:    deps.Documents,
		pipeline:     deps.Pipeline,
		verifier:     deps.Verifier,
		capabilities: deps.Capabilities,
		db:           deps.DB,
		redisClient:  deps.Redis,
		logger:       deps.Logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in recovery and request logging.
func (s *Server) Handler() http.Handler {
	return NewRecoveryMiddleware(s.logger).Handler(NewLoggingMiddleware(s.logger).Handler(s.router))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	operator := NewOperatorMiddleware(s.verifier)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)

	// Read endpoints
	s.router.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	s.router.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	s.router.HandleFunc("GET /api/v1/documents/{id}/events", s.handleDocumentEvents)
	s.router.HandleFunc("GET /api/v1/queues", s.handleQueueHealth)

	// Mutating endpoints (operator token when configured)
	s.router.Handle("POST /api/v1/documents",
		operator.Authenticate(http.HandlerFunc(s.handleUpload)))
	s.router.Handle("POST /api/v1/documents/{id}/reprocess",
		operator.Authenticate(http.HandlerFunc(s.handleReprocess)))
	s.router.Handle("POST /api/v1/documents/{id}/reprocess-ocr",
		operator.Authenticate(http.HandlerFunc(s.handleReprocessOCR)))
	s.router.Handle("POST /api/v1/documents/{id}/retry-destinations",
		operator.Authenticate(http.HandlerFunc(s.handleRetryDestinations)))
	s.router.Handle("POST /api/v1/batches",
		operator.Authenticate(http.HandlerFunc(s.handleSubmitBatch)))
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
