package filestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/custodia-labs/docpipe/internal/core/domain"
)

// SidecarSuffix is appended to the processed file name.
const SidecarSuffix = ".meta.json"

// SidecarPath returns the sidecar location for a processed output.
func SidecarPath(processedPath string) string {
	return processedPath + SidecarSuffix
}

// WriteSidecar creates the sidecar next to sc.ProcessedPath. An existing
// sidecar is never overwritten.
func WriteSidecar(sc *domain.Sidecar) (string, error) {
	path := SidecarPath(sc.ProcessedPath)
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sidecar: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return "", fmt.Errorf("create sidecar: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	return path, f.Close()
}

// ReadSidecar loads a sidecar from disk.
func ReadSidecar(path string) (*domain.Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc domain.Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &sc, nil
}
