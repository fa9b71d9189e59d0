package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// TextSource records where the text used by downstream steps came from.
type TextSource string

const (
	TextSourceNone  TextSource = ""
	TextSourceLocal TextSource = "local"
	TextSourceOCR   TextSource = "ocr"
)

// Document represents one ingested file tracked through the pipeline
type Document struct {
	ID               string `json:"id"`
	ContentHash      string `json:"content_hash"`
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mime_type"`

	// OriginalPath is the immutable archive copy; written once at intake
	OriginalPath string `json:"original_path"`
	// WorkingPath is the disposable per-run scratch copy
	WorkingPath string `json:"working_path,omitempty"`
	// TextPath holds the text the downstream steps consume
	TextPath string `json:"text_path,omitempty"`
	// ProcessedPath and SidecarPath are set once metadata embedding succeeds
	ProcessedPath string `json:"processed_path,omitempty"`
	SidecarPath   string `json:"sidecar_path,omitempty"`

	QualityScore *float64          `json:"quality_score,omitempty"`
	TextSource   TextSource        `json:"text_source,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// ParentID and ChunkIndex are set on documents produced by the splitter
	ParentID   string `json:"parent_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`

	// CurrentRunID identifies the pipeline run allowed to write step state
	CurrentRunID string `json:"current_run_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument creates a document for a freshly archived original.
func NewDocument(hash, filename, mimeType, originalPath string, size int64) *Document {
	now := time.Now()
	return &Document{
		ID:               GenerateID(),
		ContentHash:      hash,
		OriginalFilename: filename,
		Size:             size,
		MimeType:         mimeType,
		OriginalPath:     originalPath,
		Metadata:         make(map[string]string),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Extension returns the lower-cased extension of the original filename, including the dot.
func (d *Document) Extension() string {
	return strings.ToLower(filepath.Ext(d.OriginalFilename))
}

// BaseName returns the original filename without its extension.
func (d *Document) BaseName() string {
	name := filepath.Base(d.OriginalFilename)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IsPDF reports whether the document is a PDF.
func (d *Document) IsPDF() bool {
	return d.MimeType == "application/pdf" || d.Extension() == ".pdf"
}

// IsChunk reports whether the document was produced by splitting a larger file.
func (d *Document) IsChunk() bool {
	return d.ParentID != ""
}

// DocumentDetail is the status view of a document: aggregate status,
// per-step breakdown and the step that failed, if any.
type DocumentDetail struct {
	Document      *Document                `json:"document"`
	OverallStatus OverallStatus            `json:"overall_status"`
	Steps         map[StepName]*StepRecord `json:"steps"`
	Summary       StepSummary              `json:"summary"`
	FailedStep    *StepRecord              `json:"failed_step,omitempty"`
	CanRetry      bool                     `json:"can_retry"`
	// Tasks are the most recent queue tasks that reference the document
	Tasks         []*Task                  `json:"tasks,omitempty"`
}

// ProcessedArtifacts is what the embed step produced.
type ProcessedArtifacts struct {
	ProcessedPath string
	SidecarPath   string
}

// Sidecar is the metadata document stored next to a processed output.
type Sidecar struct {
	DocumentID    string            `json:"document_id"`
	RunID         string            `json:"run_id"`
	ContentHash   string            `json:"content_hash"`
	OriginalName  string            `json:"original_filename"`
	OriginalPath  string            `json:"original_path"`
	ProcessedPath string            `json:"processed_path"`
	TextSource    TextSource        `json:"text_source"`
	QualityScore  *float64          `json:"quality_score,omitempty"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}
