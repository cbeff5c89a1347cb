package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"offpay/internal/domain"
)

var (
	// ErrInvalidKey is returned for blob keys that are not safe file names.
	ErrInvalidKey = errors.New("invalid blob key")

	blobKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// FileBlobStore stores each blob in its own file under dir.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore returns a FileBlobStore rooted at dir.
func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{dir: dir}
}

func (s *FileBlobStore) path(key string) (string, error) {
	if !blobKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+".blob"), nil
}

func (s *FileBlobStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return readFile(p)
}

func (s *FileBlobStore) SetBlob(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return writeFile(p, value, 0o600)
}

func (s *FileBlobStore) Close() error { return nil }

var _ domain.BlobStore = (*FileBlobStore)(nil)
