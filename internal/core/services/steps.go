package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// verifyHash re-hashes the immutable original and compares it to the
// hash recorded at intake.
func (o *Orchestrator) verifyHash(ctx context.Context, doc *domain.Document, _ *domain.Task) (*stepOutcome, error) {
	f, err := os.Open(doc.OriginalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.Permanent(&domain.OriginalMissingError{DocumentID: doc.ID, Path: doc.OriginalPath})
		}
		return nil, domain.Transient(fmt.Errorf("open original: %w", err))
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, domain.Transient(fmt.Errorf("read original: %w", err))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if sum != doc.ContentHash {
		return nil, domain.Permanent(fmt.Errorf("content hash mismatch: recorded %s, archive has %s", doc.ContentHash, sum))
	}

	return &stepOutcome{message: "original verified", detail: sum}, nil
}

// persistRecord creates a fresh working copy from the immutable original.
func (o *Orchestrator) persistRecord(ctx context.Context, doc *domain.Document, _ *domain.Task) (*stepOutcome, error) {
	if !filestore.Exists(doc.OriginalPath) {
		return nil, domain.Permanent(&domain.OriginalMissingError{DocumentID: doc.ID, Path: doc.OriginalPath})
	}

	working, err := o.layout.PrepareWorkingCopy(doc.OriginalPath, doc.ID, doc.Extension())
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("prepare working copy: %w", err))
	}

	doc.WorkingPath = working
	doc.TextPath = ""
	doc.ProcessedPath = ""
	doc.SidecarPath = ""
	doc.TextSource = domain.TextSourceNone
	doc.QualityScore = nil
	if err := o.save(ctx, doc); err != nil {
		return nil, err
	}

	return &stepOutcome{message: "working copy prepared", detail: working}, nil
}

// qualityCheck extracts text locally and records its quality score.
// Formats without a local extractor score zero so OCR takes over.
func (o *Orchestrator) qualityCheck(ctx context.Context, doc *domain.Document, _ *domain.Task) (*stepOutcome, error) {
	if !filestore.Exists(doc.WorkingPath) {
		return nil, domain.Permanent(fmt.Errorf("working copy missing at %q", doc.WorkingPath))
	}

	var (
		text    string
		quality float64
	)
	extractor := o.extractors.Get(doc.MimeType)
	if extractor != nil {
		out, err := extractor.Extract(ctx, doc.WorkingPath, doc.MimeType)
		if err != nil {
			return nil, err
		}
		text, quality = out.Text, out.Quality
	}

	if err := o.writeText(ctx, doc, text, domain.TextSourceLocal, quality); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("local text quality %.2f", quality)
	if extractor == nil {
		msg = fmt.Sprintf("no local extractor for %s", doc.MimeType)
	}
	return &stepOutcome{message: msg, detail: excerpt(text, o.excerptLimit)}, nil
}

// runOCR either skips OCR because local text is good enough, or replaces
// the local text with OCR output.
func (o *Orchestrator) runOCR(ctx context.Context, doc *domain.Document, task *domain.Task) (*stepOutcome, error) {
	forced := task.ForceOCR()
	if !forced && doc.QualityScore != nil && *doc.QualityScore >= o.qualityThreshold {
		return &stepOutcome{
			skipped: true,
			message: fmt.Sprintf("local text quality %.2f meets threshold %.2f", *doc.QualityScore, o.qualityThreshold),
		}, nil
	}

	if o.ocr == nil {
		if forced {
			return nil, domain.Permanent(errors.New("forced OCR requested but no OCR provider is configured"))
		}
		return &stepOutcome{skipped: true, message: "no OCR provider configured, keeping local text"}, nil
	}

	if !filestore.Exists(doc.WorkingPath) {
		return nil, domain.Permanent(fmt.Errorf("working copy missing at %q", doc.WorkingPath))
	}

	out, err := o.ocr.Recognize(ctx, doc.WorkingPath, doc.MimeType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, domain.Permanent(errors.New("OCR returned no text"))
	}

	if err := o.writeText(ctx, doc, out.Text, domain.TextSourceOCR, out.Quality); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("OCR text quality %.2f", out.Quality)
	if forced {
		msg = "forced " + msg
	}
	return &stepOutcome{message: msg, detail: excerpt(out.Text, o.excerptLimit)}, nil
}

// extractMetadata classifies the current text.
func (o *Orchestrator) extractMetadata(ctx context.Context, doc *domain.Document, _ *domain.Task) (*stepOutcome, error) {
	if o.metadata == nil {
		return &stepOutcome{skipped: true, message: "no metadata extractor configured"}, nil
	}

	text, err := o.readText(doc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.Permanent(errors.New("no text available for metadata extraction"))
	}

	fields, err := o.metadata.Extract(ctx, text, doc.OriginalFilename)
	if err != nil {
		return nil, err
	}

	doc.Metadata = fields
	if err := o.save(ctx, doc); err != nil {
		return nil, err
	}

	detail, _ := json.Marshal(fields)
	return &stepOutcome{message: fmt.Sprintf("extracted %d metadata fields", len(fields)), detail: string(detail)}, nil
}

// embedMetadata writes a new processed output with the metadata embedded
// plus its sidecar. Earlier outputs are never overwritten.
func (o *Orchestrator) embedMetadata(ctx context.Context, doc *domain.Document, task *domain.Task) (*stepOutcome, error) {
	if !filestore.Exists(doc.WorkingPath) {
		return nil, domain.Permanent(fmt.Errorf("working copy missing at %q", doc.WorkingPath))
	}

	processed, err := filestore.Reserve(o.layout.ProcessedDir, outputBaseName(doc), doc.Extension())
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("allocate output name: %w", err))
	}

	if o.embedder != nil && o.embedder.Supports(doc.MimeType) && len(doc.Metadata) > 0 {
		err = o.embedder.Embed(ctx, doc.WorkingPath, processed, doc.Metadata)
	} else {
		err = filestore.CopyFile(doc.WorkingPath, processed)
	}
	if err != nil {
		_ = os.Remove(processed)
		return nil, domain.Permanent(fmt.Errorf("write processed output: %w", err))
	}

	sidecar, err := filestore.WriteSidecar(&domain.Sidecar{
		DocumentID:    doc.ID,
		RunID:         task.RunID(),
		ContentHash:   doc.ContentHash,
		OriginalName:  doc.OriginalFilename,
		OriginalPath:  doc.OriginalPath,
		ProcessedPath: processed,
		TextSource:    doc.TextSource,
		QualityScore:  doc.QualityScore,
		Metadata:      doc.Metadata,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		_ = os.Remove(processed)
		return nil, domain.Permanent(err)
	}

	prevProcessed, prevSidecar := doc.ProcessedPath, doc.SidecarPath
	doc.ProcessedPath = processed
	doc.SidecarPath = sidecar
	if err := o.save(ctx, doc); err != nil {
		// The retry reserves a fresh name; drop this attempt's files.
		_ = os.Remove(processed)
		_ = os.Remove(sidecar)
		doc.ProcessedPath, doc.SidecarPath = prevProcessed, prevSidecar
		return nil, err
	}

	return &stepOutcome{message: "processed output written", detail: processed}, nil
}

// finalizeStorage checks the artifacts and discards the working area.
func (o *Orchestrator) finalizeStorage(ctx context.Context, doc *domain.Document, _ *domain.Task) (*stepOutcome, error) {
	if !filestore.Exists(doc.ProcessedPath) {
		return nil, domain.Permanent(fmt.Errorf("processed output missing at %q", doc.ProcessedPath))
	}
	if !filestore.Exists(doc.SidecarPath) {
		return nil, domain.Permanent(fmt.Errorf("sidecar missing at %q", doc.SidecarPath))
	}

	if err := o.layout.DiscardWorking(doc.ID); err != nil {
		o.logger.Warn("failed to discard working area", "document_id", doc.ID, "error", err)
	}
	doc.WorkingPath = ""
	doc.TextPath = ""
	if err := o.save(ctx, doc); err != nil {
		return nil, err
	}

	return &stepOutcome{message: "storage finalized", detail: doc.ProcessedPath}, nil
}

func (o *Orchestrator) writeText(ctx context.Context, doc *domain.Document, text string, source domain.TextSource, quality float64) error {
	path := o.layout.TextPath(doc.ID)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return domain.Transient(fmt.Errorf("write text: %w", err))
	}
	doc.TextPath = path
	doc.TextSource = source
	doc.QualityScore = &quality
	return o.save(ctx, doc)
}

func (o *Orchestrator) readText(doc *domain.Document) (string, error) {
	if doc.TextPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(doc.TextPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.Permanent(fmt.Errorf("text missing at %q", doc.TextPath))
		}
		return "", domain.Transient(fmt.Errorf("read text: %w", err))
	}
	return string(data), nil
}

func (o *Orchestrator) save(ctx context.Context, doc *domain.Document) error {
	doc.UpdatedAt = time.Now()
	if err := o.documents.Save(ctx, doc); err != nil {
		return domain.Transient(fmt.Errorf("save document: %w", err))
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)

// outputBaseName picks the human readable output name: the extracted title
// when there is one, otherwise the original filename.
func outputBaseName(doc *domain.Document) string {
	name := doc.Metadata["title"]
	if name == "" {
		name = doc.BaseName()
	}
	name = strings.TrimSpace(unsafeName.ReplaceAllString(name, "_"))
	name = strings.Trim(name, ".")
	if r := []rune(name); len(r) > 120 {
		name = string(r[:120])
	}
	if name == "" {
		name = doc.ID
	}
	return name
}

func excerpt(text string, limit int) string {
	return domain.TruncateText(text, limit)
}
