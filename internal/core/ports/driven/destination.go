package driven

import (
	"context"

	"github.com/custodia-labs/docpipe/internal/core/domain"
)

// UploadRequest is what a destination receives.
type UploadRequest struct {
	Document    *domain.Document
	FilePath    string
	SidecarPath string
	RunID       string
}

// Destination is an external storage target for finished documents.
// The orchestrator only needs to know whether the upload succeeded;
// retryable failures are wrapped with domain.Transient.
type Destination interface {
	// Name is the destination's identifier used in step names.
	Name() string

	// Upload stores the processed document and its sidecar.
	Upload(ctx context.Context, req *UploadRequest) error
}

// CredentialProbe performs a lightweight credential validation call.
type CredentialProbe interface {
	// CredentialName identifies the credential in notifications.
	CredentialName() string

	// Probe returns nil when the credential is usable.
	Probe(ctx context.Context) error
}

// Notifier delivers credential notifications.
type Notifier interface {
	Notify(ctx context.Context, n *domain.CredentialNotification) error
}

// DestinationSet resolves the destinations enabled for a document.
type DestinationSet interface {
	// Enabled returns the destinations that documents fan out to.
	Enabled() []Destination

	// Get returns a destination by name, or nil.
	Get(name string) Destination
}

// CredentialHealth answers whether a credential passed its last probe.
type CredentialHealth interface {
	IsHealthy(name string) bool
}
