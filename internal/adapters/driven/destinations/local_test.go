package destinations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func uploadRequest(t *testing.T, content string) *driven.UploadRequest {
	t.Helper()
	src := t.TempDir()
	file := writeFile(t, src, "invoice.pdf", content)
	sidecar := writeFile(t, src, "invoice.pdf.meta.json", `{"content_hash":"abc"}`)
	return &driven.UploadRequest{
		Document:    &domain.Document{ID: "doc-1", ContentHash: "abc"},
		FilePath:    file,
		SidecarPath: sidecar,
		RunID:       "run-1",
	}
}

func TestNewLocalDir_Validation(t *testing.T) {
	_, err := NewLocalDir("", "/tmp")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewLocalDir("archive", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLocalDir_Upload(t *testing.T) {
	root := t.TempDir()
	dest, err := NewLocalDir("share", root)
	require.NoError(t, err)

	req := uploadRequest(t, "pdf bytes")
	require.NoError(t, dest.Upload(context.Background(), req))

	data, err := os.ReadFile(filepath.Join(root, "invoice.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
	assert.FileExists(t, filepath.Join(root, "invoice.pdf.meta.json"))
}

func TestLocalDir_RetriedUploadIsIdempotent(t *testing.T) {
	root := t.TempDir()
	dest, err := NewLocalDir("share", root)
	require.NoError(t, err)

	req := uploadRequest(t, "pdf bytes")
	require.NoError(t, dest.Upload(context.Background(), req))
	require.NoError(t, dest.Upload(context.Background(), req))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "second upload of identical content must not add files")
}

func TestLocalDir_CollisionGetsSuffix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "invoice.pdf", "someone else's file")

	dest, err := NewLocalDir("share", root)
	require.NoError(t, err)
	require.NoError(t, dest.Upload(context.Background(), uploadRequest(t, "pdf bytes")))

	existing, err := os.ReadFile(filepath.Join(root, "invoice.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "someone else's file", string(existing))

	data, err := os.ReadFile(filepath.Join(root, "invoice-0001.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
	assert.FileExists(t, filepath.Join(root, "invoice-0001.pdf.meta.json"))
}

func TestLocalDir_UploadErrors(t *testing.T) {
	dest, err := NewLocalDir("share", t.TempDir())
	require.NoError(t, err)

	err = dest.Upload(context.Background(), &driven.UploadRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.False(t, domain.IsTransient(err))

	err = dest.Upload(context.Background(), &driven.UploadRequest{FilePath: "/nonexistent/file.pdf"})
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err), "missing processed file is permanent")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = dest.Upload(ctx, uploadRequest(t, "x"))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestLocalDir_Probe(t *testing.T) {
	root := t.TempDir()
	dest, err := NewLocalDir("share", root)
	require.NoError(t, err)
	assert.Equal(t, "destination:share", dest.CredentialName())
	assert.NoError(t, dest.Probe(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe must clean up after itself")

	missing, err := NewLocalDir("gone", filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.ErrorIs(t, missing.Probe(context.Background()), domain.ErrServiceUnavailable)

	file := writeFile(t, root, "plain", "x")
	notDir, err := NewLocalDir("file", file)
	require.NoError(t, err)
	assert.ErrorIs(t, notDir.Probe(context.Background()), domain.ErrInvalidInput)
}

func TestNew_Factory(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  bool
	}{
		{"local", Settings{Name: "share", Type: TypeLocal, Path: t.TempDir()}, false},
		{"default type is local", Settings{Name: "share", Path: t.TempDir()}, false},
		{"unknown type", Settings{Name: "ftp", Type: "ftp"}, true},
		{"local without path", Settings{Name: "share", Type: TypeLocal}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := New(context.Background(), tt.settings)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.settings.Name, dest.Name())
		})
	}
}
