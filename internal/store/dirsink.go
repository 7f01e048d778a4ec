package store

import (
	"context"
	"fmt"
	"path/filepath"

	"comfyclient/internal/common/fsutil"
)

// DirSink writes images into a local directory.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	d, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if d == "" {
		d = "."
	}
	if err := fsutil.EnsureDir(d); err != nil {
		return nil, err
	}
	return &DirSink{dir: d}, nil
}

func (s *DirSink) Dir() string { return s.dir }

// Put writes data to dir/name and returns the file path. Names must be bare
// file names.
func (s *DirSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	p := filepath.Join(s.dir, name)
	if err := fsutil.WriteFileAtomic(p, data, 0o644); err != nil {
		return "", err
	}
	return p, nil
}
