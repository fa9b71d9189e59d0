// Package pdf wraps pdfcpu for the page-structured operations the pipeline
// needs: page splitting and merging, property embedding and local text extraction.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/extractors"
)

const mimePDF = "application/pdf"

var (
	_ driven.PageSplitter     = (*Processor)(nil)
	_ driven.MetadataEmbedder = (*Processor)(nil)
	_ driven.TextExtractor    = (*Processor)(nil)
)

// Processor implements the PDF-specific ports with pdfcpu.
type Processor struct {
	conf *model.Configuration
}

// NewProcessor creates a processor with relaxed validation, which accepts
// the slightly malformed files scanners tend to produce.
func NewProcessor() *Processor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Processor{conf: conf}
}

// Supports reports whether mimeType is PDF.
func (p *Processor) Supports(mimeType string) bool {
	return extractors.BaseMIME(mimeType) == mimePDF
}

// PageCount returns the number of pages in the file.
func (p *Processor) PageCount(ctx context.Context, path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, domain.Permanent(fmt.Errorf("count pages: %w", err))
	}
	return n, nil
}

// PageSizes splits path into single-page files under workDir.
func (p *Processor) PageSizes(ctx context.Context, path, workDir string) ([]driven.PageFile, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	if err := api.SplitFile(path, workDir, 1, p.conf); err != nil {
		return nil, domain.Permanent(fmt.Errorf("split pages: %w", err))
	}

	// pdfcpu names single-page output <base>_<n>.pdf
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	matches, err := filepath.Glob(filepath.Join(workDir, base+"_*.pdf"))
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int
		path string
	}
	pages := make([]numbered, 0, len(matches))
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), base+"_"), ".pdf")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		pages = append(pages, numbered{n: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]driven.PageFile, 0, len(pages))
	for _, pg := range pages {
		info, err := os.Stat(pg.path)
		if err != nil {
			return nil, err
		}
		out = append(out, driven.PageFile{Path: pg.path, Size: info.Size()})
	}
	if len(out) == 0 {
		return nil, domain.Permanent(fmt.Errorf("split produced no pages for %s", path))
	}
	return out, nil
}

// Merge concatenates single-page files into outPath.
func (p *Processor) Merge(ctx context.Context, pages []string, outPath string) error {
	if len(pages) == 1 {
		return copyFile(pages[0], outPath)
	}
	if err := api.MergeCreateFile(pages, outPath, false, p.conf); err != nil {
		return fmt.Errorf("merge pages: %w", err)
	}
	return nil
}

// Embed writes metadata into the document properties of in, saved as out.
func (p *Processor) Embed(ctx context.Context, in, out string, metadata map[string]string) error {
	props := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k == "" || v == "" {
			continue
		}
		props[k] = v
	}
	if len(props) == 0 {
		return copyFile(in, out)
	}
	if err := api.AddPropertiesFile(in, out, props, p.conf); err != nil {
		return domain.Permanent(fmt.Errorf("embed properties: %w", err))
	}
	return nil
}

// Extract pulls text-showing operators out of the page content streams.
// Fonts with custom encodings yield little usable text, which the quality
// score reflects.
func (p *Processor) Extract(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	dir, err := os.MkdirTemp("", "docpipe-content-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractContentFile(path, dir, nil, p.conf); err != nil {
		return nil, domain.Permanent(fmt.Errorf("extract content: %w", err))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var b strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		b.WriteString(TextFromContent(data))
		b.WriteString("\n")
	}

	text := strings.TrimSpace(b.String())
	return &driven.ExtractedText{Text: text, Quality: extractors.Score(text)}, nil
}

// SupportedTypes returns the MIME types handled as a text extractor.
func (p *Processor) SupportedTypes() []string {
	return []string{mimePDF}
}

// Priority ranks the PDF extractor as format-specific.
func (p *Processor) Priority() int {
	return 60
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
