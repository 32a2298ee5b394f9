// Package blob stores opaque byte payloads under caller-chosen keys. The
// pipeline uses it for raw submissions (submissions/{id}) and retrieved
// review context (rag_cache/submission_{id}.txt).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("blob not found")

// Store is the blob storage collaborator. Keys may contain slashes, which
// implementations treat as namespacing.
type Store interface {
	// Put stores data under key and returns the key.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get returns the data stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FS is a filesystem-backed Store rooted at a directory.
type FS struct {
	root string
}

// NewFS creates a filesystem blob store rooted at dir.
func NewFS(dir string) *FS {
	return &FS{root: dir}
}

func (f *FS) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

// Put writes data under key, creating parent directories as needed.
func (f *FS) Put(ctx context.Context, key string, data []byte) (string, error) {
	path, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", key, err)
	}
	return key, nil
}

// Get reads the data stored under key.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, nil
}
