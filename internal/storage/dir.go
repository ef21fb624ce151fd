package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirStore copies bundles into a local directory. It stands in for blob
// storage on development machines and in tests.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &DirStore{dir: abs}, nil
}

func (s *DirStore) Put(ctx context.Context, key, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = src.Close() }()

	dest := filepath.Join(s.dir, filepath.Base(key))
	tmp := dest + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", key, err)
	}
	written, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy %s: %w", key, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", key, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	if info.Size() != written {
		_ = os.Remove(dest)
		return "", fmt.Errorf("%w: %s is %d bytes, wrote %d", ErrVerify, key, info.Size(), written)
	}

	return "file://" + filepath.ToSlash(dest), nil
}
