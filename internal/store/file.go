package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"comfyclient/internal/common/fsutil"
)

// FileStore keeps the client state as a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, errors.New("store: state path is empty")
	}
	return &FileStore{path: p}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns nil, nil when no state has been saved yet.
func (s *FileStore) Load(context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}
	return b, nil
}

func (s *FileStore) Save(_ context.Context, b []byte) error {
	return fsutil.WriteFileAtomic(s.path, b, 0o600)
}
