package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/core/ports/driving"
	"github.com/custodia-labs/docpipe/internal/extractors"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// Ensure intakeService implements IntakeService
var _ driving.IntakeService = (*intakeService)(nil)

// intakeService turns incoming bytes into archived, tracked documents.
type intakeService struct {
	documents driven.DocumentStore
	registry  *StepRegistry
	queue     driven.TaskQueue
	layout    *filestore.Layout
	splitter  *Splitter
	newRunID  func() string
	logger    *slog.Logger
}

// IntakeServiceConfig holds dependencies for the intake service.
type IntakeServiceConfig struct {
	Documents driven.DocumentStore
	Registry  *StepRegistry
	Queue     driven.TaskQueue
	Layout    *filestore.Layout
	Splitter  *Splitter // Optional: oversized files are ingested whole when nil
	Logger    *slog.Logger
}

// NewIntakeService creates a new IntakeService.
func NewIntakeService(cfg IntakeServiceConfig) driving.IntakeService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &intakeService{
		documents: cfg.Documents,
		registry:  cfg.Registry,
		queue:     cfg.Queue,
		layout:    cfg.Layout,
		splitter:  cfg.Splitter,
		newRunID:  uuid.NewString,
		logger:    logger,
	}
}

// spooled is an incoming file written to the spool area.
type spooled struct {
	path     string
	hash     string
	size     int64
	mimeType string
}

// IngestFile ingests a file on disk. The file itself is not removed.
func (s *intakeService) IngestFile(ctx context.Context, path string) (*driving.IntakeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Ingest(ctx, f, filepath.Base(path))
}

// Ingest spools, hashes and archives r, then starts the pipeline.
func (s *intakeService) Ingest(ctx context.Context, r io.Reader, filename string) (*driving.IntakeResult, error) {
	filename = filepath.Base(filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: filename is required", domain.ErrInvalidInput)
	}

	sp, err := s.spool(r, filename)
	if err != nil {
		return nil, err
	}
	defer os.Remove(sp.path)

	if s.splitter.NeedsSplit(sp.size, sp.mimeType) {
		return s.ingestSplit(ctx, sp, filename)
	}

	doc, err := s.admit(ctx, sp, filename, "", 0)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return &driving.IntakeResult{Documents: []*domain.Document{doc}, Duplicate: true}, err
	}
	if err != nil {
		return nil, err
	}
	return &driving.IntakeResult{Documents: []*domain.Document{doc}}, nil
}

// ingestSplit ingests each chunk of an oversized file as its own document.
func (s *intakeService) ingestSplit(ctx context.Context, parent *spooled, filename string) (*driving.IntakeResult, error) {
	dir, err := s.layout.SplitDir()
	if err != nil {
		return nil, fmt.Errorf("create split dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	chunks, err := s.splitter.Split(ctx, parent.path, dir, base, ext)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filename, err)
	}

	docs := make([]*domain.Document, len(chunks))
	dup := make([]bool, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			f, err := os.Open(chunk)
			if err != nil {
				return err
			}
			defer f.Close()

			name := filepath.Base(chunk)
			sp, err := s.spool(f, name)
			if err != nil {
				return err
			}
			defer os.Remove(sp.path)

			doc, err := s.admit(gctx, sp, name, parent.hash, i+1)
			if errors.Is(err, domain.ErrAlreadyExists) {
				dup[i] = true
				err = nil
			}
			docs[i] = doc
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest chunks of %s: %w", filename, err)
	}

	result := &driving.IntakeResult{Documents: docs, Split: true, Duplicate: true}
	for _, d := range dup {
		result.Duplicate = result.Duplicate && d
	}
	if result.Duplicate {
		return result, domain.ErrAlreadyExists
	}
	return result, nil
}

// admit archives a spooled file and starts its first run. A byte-identical
// duplicate returns the existing document with domain.ErrAlreadyExists.
func (s *intakeService) admit(ctx context.Context, sp *spooled, filename, parentHash string, chunkIndex int) (*domain.Document, error) {
	if existing, err := s.documents.GetByHash(ctx, sp.hash); err == nil {
		s.logger.Info("duplicate document", "document_id", existing.ID, "hash", sp.hash)
		return existing, domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup hash: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	original, err := s.layout.ArchiveOriginal(sp.path, sp.hash, ext)
	if err != nil {
		return nil, err
	}

	doc := domain.NewDocument(sp.hash, filename, sp.mimeType, original, sp.size)
	doc.ParentID = parentHash
	doc.ChunkIndex = chunkIndex
	doc.CurrentRunID = s.newRunID()
	if err := s.documents.Save(ctx, doc); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent ingest of the same bytes saved first.
			existing, getErr := s.documents.GetByHash(ctx, sp.hash)
			if getErr != nil {
				return nil, fmt.Errorf("lookup hash after conflict: %w", getErr)
			}
			s.logger.Info("duplicate document", "document_id", existing.ID, "hash", sp.hash)
			return existing, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("save document: %w", err)
	}

	if _, err := s.registry.Initialize(ctx, doc.ID, doc.CurrentRunID); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, domain.NewStepTask(doc.ID, doc.CurrentRunID, domain.StepHash, false)); err != nil {
		return nil, fmt.Errorf("enqueue first step: %w", err)
	}

	s.logger.Info("document ingested",
		"document_id", doc.ID,
		"run_id", doc.CurrentRunID,
		"filename", filename,
		"size", sp.size,
		"mime_type", sp.mimeType,
	)
	return doc, nil
}

// spool streams r into the spool area while hashing it.
func (s *intakeService) spool(r io.Reader, filename string) (*spooled, error) {
	f, err := s.layout.SpoolFile()
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	h := sha256.New()
	sniff := &prefixWriter{limit: 512}
	n, err := io.Copy(io.MultiWriter(f, h, sniff), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if n == 0 {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}

	return &spooled{
		path:     f.Name(),
		hash:     hex.EncodeToString(h.Sum(nil)),
		size:     n,
		mimeType: DetectMIME(sniff.buf, filename),
	}, nil
}

var extensionTypes = map[string]string{
	".pdf":      "application/pdf",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".html":     "text/html",
	".htm":      "text/html",
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".tif":      "image/tiff",
	".tiff":     "image/tiff",
}

// DetectMIME sniffs the content and refines generic results with the
// filename extension.
func DetectMIME(head []byte, filename string) string {
	sniffed := extractors.BaseMIME(http.DetectContentType(head))
	if sniffed != "application/octet-stream" && sniffed != "text/plain" {
		return sniffed
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return extractors.BaseMIME(t)
	}
	return sniffed
}

// prefixWriter keeps the first limit bytes written to it.
type prefixWriter struct {
	buf   []byte
	limit int
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
