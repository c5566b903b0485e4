package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dontdude/imgcap/internal/domain"
)

// FS stores each result as <dir>/<id>.txt.
type FS struct {
	dir string
}

var _ domain.ResultStore = (*FS)(nil)

// NewFS creates dir if needed and returns a store rooted there.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result directory %s: %w", dir, err)
	}
	return &FS{dir: dir}, nil
}

func (s *FS) path(id string) string {
	return filepath.Join(s.dir, id+".txt")
}

// Put writes the result through a synced temp file and a rename, so readers never observe a
// partial result.
func (s *FS) Put(ctx context.Context, id string, data []byte) error {
	if !validID(id) {
		return fmt.Errorf("invalid job id %q", id)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close result: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return fmt.Errorf("failed to save result %s: %w", id, err)
	}
	return nil
}

// Get reads the result, trimming surrounding whitespace.
func (s *FS) Get(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, domain.ErrResultNotFound
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return bytes.TrimSpace(data), nil
}

func (s *FS) Close() error { return nil }
