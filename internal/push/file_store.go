package push

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// FileStore persists the record in a single file. Each save writes a temp file
// in the same directory, syncs it and renames it over the target.
type FileStore struct {
	path string
	perm os.FileMode
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path. The parent directory is
// created if missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file store: creating directory: %w", err)
	}
	return &FileStore{path: path, perm: 0o600}, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the file. A missing file is an empty record.
func (s *FileStore) Load(_ context.Context) (PersistedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyRecord(), nil
		}
		return PersistedRecord{}, fmt.Errorf("file store: reading %s: %w", s.path, err)
	}
	return decodeStored(blob)
}

// Save atomically replaces the file.
func (s *FileStore) Save(ctx context.Context, rec PersistedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := MarshalRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := renameio.WriteFile(s.path, blob, s.perm); err != nil {
		return fmt.Errorf("file store: writing %s: %w", s.path, err)
	}
	return nil
}
