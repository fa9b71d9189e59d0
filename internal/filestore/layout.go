// Package filestore owns the on-disk layout: the immutable-original archive,
// the per-document working area and the processed-output area.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	spoolDir = ".spool"
)

// Layout resolves paths in the three storage areas.
type Layout struct {
	ArchiveDir   string
	WorkingDir   string
	ProcessedDir string
}

// NewLayout creates a layout rooted at the given directories.
func NewLayout(archiveDir, workingDir, processedDir string) *Layout {
	return &Layout{
		ArchiveDir:   archiveDir,
		WorkingDir:   workingDir,
		ProcessedDir: processedDir,
	}
}

// EnsureDirs creates every area if missing.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.ArchiveDir, l.WorkingDir, l.ProcessedDir, filepath.Join(l.WorkingDir, spoolDir)} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ArchivePath is where the immutable original of a given content hash lives.
func (l *Layout) ArchivePath(hash, ext string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(l.ArchiveDir, prefix, hash+ext)
}

// DocumentDir is the document's private scratch directory.
func (l *Layout) DocumentDir(documentID string) string {
	return filepath.Join(l.WorkingDir, documentID)
}

// WorkingPath is the disposable working copy of a document.
func (l *Layout) WorkingPath(documentID, ext string) string {
	return filepath.Join(l.DocumentDir(documentID), documentID+ext)
}

// TextPath is where extracted text for a document is kept.
func (l *Layout) TextPath(documentID string) string {
	return filepath.Join(l.DocumentDir(documentID), "text.txt")
}

// SpoolFile creates a temporary file for incoming bytes.
func (l *Layout) SpoolFile() (*os.File, error) {
	dir := filepath.Join(l.WorkingDir, spoolDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, "intake-*")
}

// SplitDir creates a scratch directory for splitting one oversized file.
func (l *Layout) SplitDir() (string, error) {
	dir := filepath.Join(l.WorkingDir, spoolDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", err
	}
	return os.MkdirTemp(dir, "split-*")
}

// ArchiveOriginal moves a spooled file into the archive write-once.
// If an identical original is already archived the spool file is discarded
// and the existing path is returned.
func (l *Layout) ArchiveOriginal(spoolPath, hash, ext string) (string, error) {
	dst := l.ArchivePath(hash, ext)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return "", err
	}
	// Link is atomic and fails if dst exists.
	if err := os.Link(spoolPath, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			_ = os.Remove(spoolPath)
			return dst, nil
		}
		if err := copyExclusive(spoolPath, dst); err != nil && !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("archive original: %w", err)
		}
	}
	_ = os.Remove(spoolPath)
	_ = os.Chmod(dst, 0o444)
	return dst, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// PrepareWorkingCopy replaces the document's working area with a fresh copy of the original.
func (l *Layout) PrepareWorkingCopy(originalPath, documentID, ext string) (string, error) {
	dir := l.DocumentDir(documentID)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", err
	}
	dst := l.WorkingPath(documentID, ext)
	if err := CopyFile(originalPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// DiscardWorking removes the document's working area.
func (l *Layout) DiscardWorking(documentID string) error {
	return os.RemoveAll(l.DocumentDir(documentID))
}

// CopyFile copies src to dst, truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
