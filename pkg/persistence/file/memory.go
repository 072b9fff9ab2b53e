package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// MemoryRepository stores memory/{workflow}.json, replaced by rename so a
// reader never sees a partial write.
type MemoryRepository struct {
	root string
	mu   sync.Mutex

	// beforeRename lets tests interrupt a write between sync and rename.
	beforeRename func() error
}

func NewMemoryRepository(root string) *MemoryRepository {
	return &MemoryRepository{root: root}
}

func (r *MemoryRepository) path(workflowID string) string {
	return filepath.Join(r.root, "memory", safeName(workflowID)+".json")
}

func (r *MemoryRepository) Load(_ context.Context, workflowID string) (*models.WorkflowMemory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read(workflowID)
}

func (r *MemoryRepository) read(workflowID string) (*models.WorkflowMemory, error) {
	body, err := os.ReadFile(r.path(workflowID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewStoreError("LoadMemory", workflowID, err)
	}

	var mem models.WorkflowMemory
	if err := codec.Unmarshal(body, codec.KindMemory, &mem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory of %s: %w", workflowID, err)
	}

	return &mem, nil
}

func (r *MemoryRepository) Record(_ context.Context, workflowID string, expectedVersion int64, data []byte) (*models.WorkflowMemory, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("memory of %s is not valid JSON", workflowID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read(workflowID)
	if err != nil {
		return nil, err
	}

	var version int64
	if current != nil {
		version = current.Version
	}

	if version != expectedVersion {
		return nil, persistence.NewStoreError("RecordMemory", workflowID,
			fmt.Errorf("%w: expected version %d, found %d", persistence.ErrMemoryVersionConflict, expectedVersion, version))
	}

	next := &models.WorkflowMemory{
		WorkflowID: workflowID,
		Version:    version + 1,
		Data:       json.RawMessage(data),
		UpdatedAt:  time.Now().UTC(),
	}

	body, err := codec.Marshal(codec.KindMemory, next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory of %s: %w", workflowID, err)
	}

	if err := writeAtomic(r.path(workflowID), body, r.beforeRename); err != nil {
		return nil, persistence.NewStoreError("RecordMemory", workflowID, err)
	}

	return next, nil
}
