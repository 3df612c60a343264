// Package blob stores attachment bytes before the message referencing them
// is constructed.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("blob: invalid path")

// Uploader durably stores bytes and returns the URL a message may embed.
type Uploader interface {
	Upload(ctx context.Context, data []byte, path string) (string, error)
}

// DiskStore writes blobs under a root directory and serves them from a
// base URL. It stands in for an object store behind the same contract.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore constructs a DiskStore.
func NewDiskStore(root, baseURL string) *DiskStore {
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes the bytes and returns their URL. The path must stay inside
// the root.
func (s *DiskStore) Upload(ctx context.Context, data []byte, path string) (string, error) {
	clean := filepath.Clean(path)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}

	full := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}
