package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) Load(ctx context.Context, workflowID string) (*models.WorkflowMemory, error) {
	mem := models.WorkflowMemory{WorkflowID: workflowID}

	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT version, data, updated_at FROM workflow_memory WHERE workflow_id = $1`, workflowID).
		Scan(&mem.Version, &data, &mem.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewStoreError("LoadMemory", workflowID, err)
	}

	mem.Data = json.RawMessage(data)
	mem.UpdatedAt = mem.UpdatedAt.UTC()

	return &mem, nil
}

// Record is a single statement per case so a crash either applies the whole
// write or nothing.
func (r *MemoryRepository) Record(ctx context.Context, workflowID string, expectedVersion int64, data []byte) (*models.WorkflowMemory, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("memory of %s is not valid JSON", workflowID)
	}

	now := time.Now().UTC()

	var res sql.Result

	var err error

	if expectedVersion == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO workflow_memory (workflow_id, version, data, updated_at)
			VALUES ($1, 1, $2, $3)
			ON CONFLICT (workflow_id) DO NOTHING`, workflowID, string(data), now)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE workflow_memory
			SET version = version + 1, data = $3, updated_at = $4
			WHERE workflow_id = $1 AND version = $2`, workflowID, expectedVersion, string(data), now)
	}

	if err != nil {
		return nil, persistence.NewStoreError("RecordMemory", workflowID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, persistence.NewStoreError("RecordMemory", workflowID, err)
	}

	if affected == 0 {
		return nil, persistence.NewStoreError("RecordMemory", workflowID,
			fmt.Errorf("%w: expected version %d", persistence.ErrMemoryVersionConflict, expectedVersion))
	}

	return &models.WorkflowMemory{WorkflowID: workflowID, Version: expectedVersion + 1, Data: json.RawMessage(data), UpdatedAt: now}, nil
}
