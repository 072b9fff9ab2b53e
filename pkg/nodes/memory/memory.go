// Package memory provides the load and record memory nodes, which read and
// atomically replace the per-workflow memory.
package memory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// Load outputs {version, data} of the workflow memory, or {version: 0,
// data: null} when nothing was recorded yet.
type Load struct {
	repo persistence.MemoryRepository
}

var _ capability.Executor = (*Load)(nil)

func NewLoad(repo persistence.MemoryRepository) *Load {
	return &Load{repo: repo}
}

func (l *Load) Execute(ctx context.Context, req *capability.Request) (any, error) {
	mem, err := l.repo.Load(ctx, req.DefinitionID)
	if err != nil {
		return nil, capability.Fail(capability.FailureExecution, "failed to load memory: %v", err)
	}

	return snapshot(mem)
}

// Record derives the next memory with a MemoryUpdater and writes it with
// the version it read. A concurrent writer makes the execution fail and
// leaves the stored memory untouched.
type Record struct {
	repo    persistence.MemoryRepository
	updater capability.MemoryUpdater
}

var _ capability.Executor = (*Record)(nil)

func NewRecord(repo persistence.MemoryRepository, updater capability.MemoryUpdater) *Record {
	if updater == nil {
		updater = capability.StoreOutput{}
	}

	return &Record{repo: repo, updater: updater}
}

func (r *Record) Execute(ctx context.Context, req *capability.Request) (any, error) {
	cfg, err := req.Node.MemoryConfig()
	if err != nil {
		return nil, capability.Fail(capability.FailureInvalidInput, "%v", err)
	}

	workflowOutput, ok := req.Inputs[models.PortWorkflowOutput]
	if !ok {
		workflowOutput = req.Input()
	}

	current, err := r.repo.Load(ctx, req.DefinitionID)
	if err != nil {
		return nil, capability.Fail(capability.FailureExecution, "failed to load memory: %v", err)
	}

	next, err := r.updater.Update(ctx, cfg.UpdateInstructions, current, workflowOutput)
	if err != nil {
		f := capability.AsFailure(err)
		if f.Kind == capability.FailureExecution {
			f.Kind = capability.FailureExternalService
		}

		return nil, f
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, capability.Fail(capability.FailureExecution, "failed to encode memory: %v", err)
	}

	var expected int64
	if current != nil {
		expected = current.Version
	}

	mem, err := r.repo.Record(ctx, req.DefinitionID, expected, data)
	if errors.Is(err, persistence.ErrMemoryVersionConflict) {
		return nil, capability.Fail(capability.FailureExecution, "memory of %s changed since version %d", req.DefinitionID, expected)
	}

	if err != nil {
		return nil, capability.Fail(capability.FailureExecution, "failed to record memory: %v", err)
	}

	return snapshot(mem)
}

func snapshot(mem *models.WorkflowMemory) (any, error) {
	if mem == nil {
		return map[string]any{"version": int64(0), "data": nil}, nil
	}

	var data any
	if len(mem.Data) > 0 {
		if err := json.Unmarshal(mem.Data, &data); err != nil {
			return nil, capability.Fail(capability.FailureExecution, "stored memory is not JSON: %v", err)
		}
	}

	return map[string]any{"version": mem.Version, "data": data}, nil
}

func Register(r *capability.Registry, repo persistence.MemoryRepository, updater capability.MemoryUpdater) {
	r.Register(models.NodeTypeMemory, string(models.MemoryLoad), NewLoad(repo))
	r.Register(models.NodeTypeMemory, string(models.MemoryRecord), NewRecord(repo, updater))
}
