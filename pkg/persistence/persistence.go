// Package persistence defines the storage contracts of the engine: the event
// log, immutable definitions, the trigger index, workflow memory, output
// blobs, run projections and run claims.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
)

// AnySequence disables the optimistic check of EventLog.Append.
const AnySequence int64 = -1

type Persistence interface {
	Events() EventLog
	Definitions() DefinitionRepository
	Triggers() TriggerRepository
	Memory() MemoryRepository
	Blobs() BlobStore
	Runs() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// EventLog is the append-only, per-run ordered source of truth.
type EventLog interface {
	// Append assigns consecutive sequences to envs. When expectedLast is not
	// AnySequence and the run's last sequence differs, nothing is written and
	// ErrSequenceConflict is returned.
	Append(ctx context.Context, runID string, expectedLast int64, envs ...events.Envelope) ([]events.Envelope, error)
	// Load returns the events with sequence greater than afterSequence.
	Load(ctx context.Context, runID string, afterSequence int64) ([]events.Envelope, error)
}

// DefinitionRepository stores immutable definition versions.
type DefinitionRepository interface {
	// Save stores def as the next version of def.ID and returns it.
	Save(ctx context.Context, def *models.Definition) (*models.Definition, error)
	Latest(ctx context.Context, id string) (*models.Definition, error)
	Version(ctx context.Context, id string, version int) (*models.Definition, error)
	List(ctx context.Context) ([]*models.Definition, error)
}

// TriggerRepository is the trigger index.
type TriggerRepository interface {
	ByID(ctx context.Context, id string) (*models.TriggerEntry, error)
	ByDefinition(ctx context.Context, definitionID string) ([]*models.TriggerEntry, error)
	ByKind(ctx context.Context, kind models.TriggerKind) ([]*models.TriggerEntry, error)
	ByMatchKey(ctx context.Context, kind models.TriggerKind, matchKey string) ([]*models.TriggerEntry, error)
	// Apply upserts and deletes in one unit.
	Apply(ctx context.Context, upserts []*models.TriggerEntry, deletes []string) error
}

type MemoryRepository interface {
	// Load returns nil when no memory was recorded yet.
	Load(ctx context.Context, workflowID string) (*models.WorkflowMemory, error)
	// Record atomically replaces the memory if its version still equals
	// expectedVersion (0 means none must exist) and returns the new version.
	Record(ctx context.Context, workflowID string, expectedVersion int64, data []byte) (*models.WorkflowMemory, error)
}

// BlobStore keeps node outputs and run inputs referenced from events.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RunRepository caches projections of run state. It is rebuildable from the
// event log and never authoritative.
type RunRepository interface {
	Save(ctx context.Context, run *models.Run, executions []models.NodeExecution) error
	ByID(ctx context.Context, id string) (*models.Run, error)
	ByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error)
}

// Claim is a time-bounded lease on a run held by one orchestrator.
type Claim struct {
	RunID     string
	Owner     string
	ExpiresAt time.Time
}

type ClaimStore interface {
	// Acquire takes the claim when it is free, expired, or already held by
	// owner. Otherwise it returns ErrClaimHeld.
	Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (*Claim, error)
	// Renew extends a claim still held by owner, or returns ErrClaimLost.
	Renew(ctx context.Context, runID, owner string, ttl time.Duration) (*Claim, error)
	Release(ctx context.Context, runID, owner string) error
	// Expired lists claims whose lease ran out before now.
	Expired(ctx context.Context, now time.Time) ([]Claim, error)
}
