package destinations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
	"github.com/custodia-labs/docpipe/internal/filestore"
)

// Verify interface compliance
var (
	_ driven.Destination     = (*GCS)(nil)
	_ driven.CredentialProbe = (*GCS)(nil)
)

// GCS uploads finished documents to a Google Cloud Storage bucket.
// Objects are written with a does-not-exist precondition; an object that
// already exists is treated as a completed upload.
type GCS struct {
	name   string
	bucket string
	prefix string
	client *storage.Client
}

// NewGCS creates a GCS destination. Credentials come from the environment
// (Application Default Credentials) unless opts say otherwise.
func NewGCS(ctx context.Context, name, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	if name == "" || bucket == "" {
		return nil, fmt.Errorf("%w: gcs destination needs a name and a bucket", domain.ErrInvalidInput)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{
		name:   name,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
	}, nil
}

// Name returns the destination name.
func (g *GCS) Name() string {
	return g.name
}

// Upload writes the processed file and its sidecar as two objects.
func (g *GCS) Upload(ctx context.Context, req *driven.UploadRequest) error {
	if req == nil || req.FilePath == "" {
		return domain.Permanent(fmt.Errorf("%w: no processed file to upload", domain.ErrInvalidInput))
	}

	object := g.objectName(req.FilePath)
	attrs := map[string]string{"run_id": req.RunID}
	contentType := ""
	if req.Document != nil {
		attrs["document_id"] = req.Document.ID
		attrs["content_hash"] = req.Document.ContentHash
		attrs["original_filename"] = req.Document.OriginalFilename
		contentType = req.Document.MimeType
	}

	if err := g.put(ctx, req.FilePath, object, contentType, attrs); err != nil {
		return err
	}
	if req.SidecarPath == "" {
		return nil
	}
	return g.put(ctx, req.SidecarPath, object+filestore.SidecarSuffix, "application/json", attrs)
}

func (g *GCS) put(ctx context.Context, src, object, contentType string, attrs map[string]string) error {
	f, err := os.Open(src)
	if err != nil {
		return domain.Permanent(fmt.Errorf("open %s: %w", filepath.Base(src), err))
	}
	defer f.Close()

	w := g.client.Bucket(g.bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = attrs

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return classifyGCS(fmt.Errorf("write gs://%s/%s: %w", g.bucket, object, err))
	}
	if err := w.Close(); err != nil {
		return classifyGCS(fmt.Errorf("finalize gs://%s/%s: %w", g.bucket, object, err))
	}
	return nil
}

// CredentialName identifies this destination's credential.
func (g *GCS) CredentialName() string {
	return "destination:" + g.name
}

// Probe reads the bucket attributes, which needs a valid credential with
// access to the bucket.
func (g *GCS) Probe(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return classifyGCS(fmt.Errorf("bucket %s: %w", g.bucket, err))
	}
	return nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) objectName(filePath string) string {
	base := filepath.Base(filePath)
	if g.prefix == "" {
		return base
	}
	return path.Join(g.prefix, base)
}

// classifyGCS maps storage errors onto the retry taxonomy. A failed
// does-not-exist precondition means the object is already there.
func classifyGCS(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusPreconditionFailed:
			return nil
		case gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500:
			return domain.Transient(err)
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return domain.Permanent(fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
		default:
			return domain.Permanent(err)
		}
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return domain.Permanent(err)
	}
	// Transport failures, timeouts and cancelled contexts
	return domain.Transient(err)
}
