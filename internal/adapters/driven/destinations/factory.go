package destinations

import (
	"context"
	"fmt"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Destination types
const (
	TypeLocal = "local"
	TypeGCS   = "gcs"
)

// Settings describes one configured destination.
type Settings struct {
	Name    string
	Type    string
	Path    string // local
	Bucket  string // gcs
	Prefix  string // gcs, optional object prefix
	Enabled bool
}

// New builds the destination described by s.
func New(ctx context.Context, s Settings) (driven.Destination, error) {
	switch s.Type {
	case TypeLocal, "":
		return NewLocalDir(s.Name, s.Path)
	case TypeGCS:
		return NewGCS(ctx, s.Name, s.Bucket, s.Prefix)
	default:
		return nil, fmt.Errorf("%w: unknown destination type %q", domain.ErrInvalidInput, s.Type)
	}
}
