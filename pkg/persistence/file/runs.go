package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// RunRepository caches run projections in runs/{id}.json.
type RunRepository struct {
	root string
}

type runFile struct {
	Run        *models.Run            `json:"run"`
	Executions []models.NodeExecution `json:"executions"`
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (r *RunRepository) path(id string) string {
	return filepath.Join(r.root, "runs", safeName(id)+".json")
}

func (r *RunRepository) Save(_ context.Context, run *models.Run, executions []models.NodeExecution) error {
	data, err := json.MarshalIndent(runFile{Run: run, Executions: executions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	if err := writeAtomic(r.path(run.ID), data, nil); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) ByID(_ context.Context, id string) (*models.Run, error) {
	body, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewStoreError("GetRun", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewStoreError("GetRun", id, err)
	}

	var rf runFile
	if err := json.Unmarshal(body, &rf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return rf.Run, nil
}

func (r *RunRepository) ByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, "runs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.Run{}, nil
		}

		return nil, persistence.NewStoreError("RunsByDefinition", definitionID, err)
	}

	runs := make([]*models.Run, 0)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}

		run, err := r.ByID(ctx, name[:len(name)-len(".json")])
		if err != nil {
			return nil, err
		}

		if run.DefinitionID == definitionID {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	return runs, nil
}
