package destinations

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// Verify interface compliance
var (
	_ driven.Destination     = (*LocalDir)(nil)
	_ driven.CredentialProbe = (*LocalDir)(nil)
)

// LocalDir copies finished documents into a directory, typically a mounted
// share. An identical file already present under the target name counts as
// uploaded, so a retried upload does not produce a duplicate.
type LocalDir struct {
	name string
	root string
}

// NewLocalDir creates a local directory destination.
func NewLocalDir(name, root string) (*LocalDir, error) {
	if name == "" || root == "" {
		return nil, fmt.Errorf("%w: local destination needs a name and a path", domain.ErrInvalidInput)
	}
	return &LocalDir{name: name, root: root}, nil
}

// Name returns the destination name.
func (d *LocalDir) Name() string {
	return d.name
}

// Root returns the target directory.
func (d *LocalDir) Root() string {
	return d.root
}

// Upload copies the processed file and its sidecar into the target directory.
func (d *LocalDir) Upload(ctx context.Context, req *driven.UploadRequest) error {
	if req == nil || req.FilePath == "" {
		return domain.Permanent(fmt.Errorf("%w: no processed file to upload", domain.ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return domain.Permanent(fmt.Errorf("processed file: %w", err))
	}

	target, err := d.place(req.FilePath)
	if err != nil {
		return classifyLocal(fmt.Errorf("copy %s to %s: %w", filepath.Base(req.FilePath), d.name, err))
	}

	if req.SidecarPath == "" {
		return nil
	}
	if err := copyIfAbsent(req.SidecarPath, filestore.SidecarPath(target)); err != nil {
		return classifyLocal(fmt.Errorf("copy sidecar to %s: %w", d.name, err))
	}
	return nil
}

// CredentialName identifies this destination's credential.
func (d *LocalDir) CredentialName() string {
	return "destination:" + d.name
}

// Probe checks that the directory exists and is writable.
func (d *LocalDir) Probe(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, d.root)
	}

	f, err := os.CreateTemp(d.root, ".docpipe-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// place copies src under its own name, reusing an identical existing file
// and otherwise allocating a collision-safe name.
func (d *LocalDir) place(src string) (string, error) {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i <= filestore.MaxSuffix; i++ {
		candidate := filepath.Join(d.root, stem+ext)
		if i > 0 {
			candidate = filepath.Join(d.root, fmt.Sprintf("%s-%04d%s", stem, i, ext))
		}
		if !filestore.Exists(candidate) {
			break
		}
		same, err := sameContent(src, candidate)
		if err != nil {
			return "", err
		}
		if same {
			return candidate, nil
		}
	}

	f, err := filestore.Allocate(d.root, stem, ext)
	if err != nil {
		return "", err
	}
	target := f.Name()
	if err := copyInto(f, src); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return target, nil
}

func copyInto(out *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		return err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyIfAbsent copies src to dst unless dst already exists.
func copyIfAbsent(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
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

func sameContent(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func fileHash(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// classifyLocal treats permission and missing-path errors as permanent;
// anything else (full disk, unmounted share) may clear up on retry.
func classifyLocal(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return domain.Permanent(fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
	case errors.Is(err, os.ErrNotExist), errors.Is(err, filestore.ErrNamesExhausted):
		return domain.Permanent(err)
	default:
		return domain.Transient(err)
	}
}
