package driven

import (
	"context"
)

// ExtractedText is the output of local extraction or OCR.
type ExtractedText struct {
	Text string
	// Quality is a confidence score in [0,1]
	Quality float64
}

// TextExtractor extracts text locally from a file.
type TextExtractor interface {
	// Extract reads the file at path and returns its text with a quality score.
	Extract(ctx context.Context, path string, mimeType string) (*ExtractedText, error)

	// SupportedTypes returns MIME types this extractor handles.
	// Can include wildcards like "text/*".
	SupportedTypes() []string

	// Priority returns the extractor priority (higher = more specific).
	//   50-89:  Format-specific (PDF)
	//   10-49:  Generic (plain text)
	//   1-9:    Fallback
	Priority() int
}

// ExtractorRegistry manages text extractors.
// When multiple extractors match a MIME type, the highest priority one is used.
type ExtractorRegistry interface {
	// Get retrieves the best-matching extractor for a MIME type, or nil.
	Get(mimeType string) TextExtractor

	// Register registers an extractor.
	Register(extractor TextExtractor)

	// List returns all registered MIME types.
	List() []string
}

// OCRProvider turns a page-structured or image document into text.
type OCRProvider interface {
	// Recognize runs OCR on the file at path.
	// Network failures are returned wrapped with domain.Transient.
	Recognize(ctx context.Context, path string, mimeType string) (*ExtractedText, error)
}

// MetadataExtractor derives structured classification fields from text.
type MetadataExtractor interface {
	// Extract returns metadata fields for the given text.
	Extract(ctx context.Context, text string, filename string) (map[string]string, error)
}

// PageSplitter understands page-structured documents.
type PageSplitter interface {
	// Supports reports whether the splitter can handle the MIME type.
	Supports(mimeType string) bool

	// PageSizes splits the file into single pages under workDir and returns
	// the path and byte size of each page in order.
	PageSizes(ctx context.Context, path, workDir string) ([]PageFile, error)

	// Merge writes the given page files, in order, into one document at outPath.
	Merge(ctx context.Context, pages []string, outPath string) error

	// PageCount returns the number of pages in the file.
	PageCount(ctx context.Context, path string) (int, error)
}

// PageFile is one single-page document produced by PageSplitter.
type PageFile struct {
	Path string
	Size int64
}

// MetadataEmbedder writes metadata into a document format that supports it.
type MetadataEmbedder interface {
	// Supports reports whether the embedder handles the MIME type.
	Supports(mimeType string) bool

	// Embed copies in to out with the metadata written into the document.
	Embed(ctx context.Context, in, out string, metadata map[string]string) error
}
