package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dukex/aide/pkg/persistence"
)

// BlobStore writes each blob to blobs/{key}. Keys may contain "/" to group
// blobs by run.
type BlobStore struct {
	root string
}

func NewBlobStore(root string) *BlobStore {
	return &BlobStore{root: root}
}

func (s *BlobStore) path(key string) (string, error) {
	base := filepath.Join(s.root, "blobs")
	path := filepath.Join(base, filepath.Clean("/"+key))

	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." {
		return "", persistence.NewStoreError("BlobPath", key, errors.New("invalid blob key"))
	}

	return path, nil
}

func (s *BlobStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := writeAtomic(path, data, nil); err != nil {
		return persistence.NewStoreError("PutBlob", key, err)
	}

	return nil
}

func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewStoreError("GetBlob", key, persistence.ErrBlobNotFound)
		}

		return nil, persistence.NewStoreError("GetBlob", key, err)
	}

	return data, nil
}
