package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Splitter defaults.
const (
	DefaultSplitThreshold = 50 << 20
	DefaultChunkLimit     = 20 << 20
)

// Splitter breaks oversized page-structured documents into chunks of whole
// pages. A chunk exceeds the limit only when it holds a single page that is
// larger than the limit on its own.
type Splitter struct {
	pages      driven.PageSplitter
	threshold  int64
	chunkLimit int64
	logger     *slog.Logger
}

// SplitterConfig holds dependencies for Splitter.
type SplitterConfig struct {
	Pages      driven.PageSplitter
	Threshold  int64 // files larger than this are split (default: 50MiB)
	ChunkLimit int64 // byte limit per chunk (default: 20MiB)
	Logger     *slog.Logger
}

// NewSplitter creates a new splitter.
func NewSplitter(cfg SplitterConfig) *Splitter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultSplitThreshold
	}
	limit := cfg.ChunkLimit
	if limit == 0 {
		limit = DefaultChunkLimit
	}
	return &Splitter{pages: cfg.Pages, threshold: threshold, chunkLimit: limit, logger: logger}
}

// NeedsSplit reports whether a file of this size and type is split before intake.
func (s *Splitter) NeedsSplit(size int64, mimeType string) bool {
	return s != nil && s.pages != nil && size > s.threshold && s.pages.Supports(mimeType)
}

// Split writes the chunks of path into workDir and returns their paths in
// page order. The input file is left untouched.
func (s *Splitter) Split(ctx context.Context, path, workDir, baseName, ext string) ([]string, error) {
	total, err := s.pages.PageCount(ctx, path)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("count pages: %w", err))
	}

	pagesDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(pagesDir)

	pages, err := s.pages.PageSizes(ctx, path, pagesDir)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("split pages: %w", err))
	}
	if len(pages) != total {
		return nil, domain.Permanent(fmt.Errorf("split produced %d pages, document has %d", len(pages), total))
	}

	sizes := make([]int64, len(pages))
	for i, p := range pages {
		sizes[i] = p.Size
	}

	var chunks []string
	for _, group := range PackPages(sizes, s.chunkLimit) {
		built, err := s.buildChunk(ctx, pages, group, workDir, baseName, ext, len(chunks))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, built...)
	}

	// Every page must land in exactly one chunk
	sum := 0
	for _, c := range chunks {
		n, err := s.pages.PageCount(ctx, c)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("verify chunk %s: %w", c, err))
		}
		sum += n
	}
	if sum != total {
		return nil, domain.Permanent(fmt.Errorf("chunks hold %d pages, document has %d", sum, total))
	}

	s.logger.Info("split oversized document", "path", path, "pages", total, "chunks", len(chunks))
	return chunks, nil
}

// buildChunk merges a page group. Merging adds container overhead, so a
// multi-page chunk that ends up over the limit is halved and rebuilt.
func (s *Splitter) buildChunk(ctx context.Context, pages []driven.PageFile, group []int, workDir, baseName, ext string, index int) ([]string, error) {
	out := filepath.Join(workDir, fmt.Sprintf("%s-part%03d%s", baseName, index+1, ext))

	paths := make([]string, len(group))
	for i, p := range group {
		paths[i] = pages[p].Path
	}
	if err := s.pages.Merge(ctx, paths, out); err != nil {
		return nil, domain.Permanent(fmt.Errorf("merge chunk: %w", err))
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, err
	}
	if info.Size() <= s.chunkLimit || len(group) == 1 {
		return []string{out}, nil
	}

	_ = os.Remove(out)
	mid := len(group) / 2
	first, err := s.buildChunk(ctx, pages, group[:mid], workDir, baseName, ext, index)
	if err != nil {
		return nil, err
	}
	second, err := s.buildChunk(ctx, pages, group[mid:], workDir, baseName, ext, index+len(first))
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// PackPages greedily groups consecutive page indexes so that no group's
// total size exceeds limit, except a group holding one oversized page.
func PackPages(sizes []int64, limit int64) [][]int {
	var (
		groups  [][]int
		current []int
		used    int64
	)
	for i, size := range sizes {
		if len(current) > 0 && used+size > limit {
			groups = append(groups, current)
			current, used = nil, 0
		}
		current = append(current, i)
		used += size
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
