package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dukex/aide/pkg/persistence"
)

type BlobStore struct {
	db *sql.DB
}

func NewBlobStore(db *sql.DB) *BlobStore {
	return &BlobStore{db: db}
}

// Put overwrites an existing key; a redelivered work item writes the same key
// again.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data`, key, data)
	if err != nil {
		return persistence.NewStoreError("PutBlob", key, err)
	}

	return nil
}

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetBlob", key, persistence.ErrBlobNotFound)
		}

		return nil, persistence.NewStoreError("GetBlob", key, err)
	}

	return data, nil
}
