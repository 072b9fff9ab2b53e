package models

import (
	"strconv"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionReady     ExecutionStatus = "ready"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionSkipped
}

// Instance is the fan-out item path of an execution, outermost scope first.
// The empty instance is the single execution of a node outside any fan-out.
type Instance []int

func (i Instance) String() string {
	parts := make([]string, len(i))
	for n, idx := range i {
		parts[n] = strconv.Itoa(idx)
	}

	return strings.Join(parts, ".")
}

func (i Instance) Child(index int) Instance {
	out := make(Instance, len(i), len(i)+1)
	copy(out, i)

	return append(out, index)
}

func (i Instance) Prefix(n int) Instance {
	if n >= len(i) {
		return i
	}

	return i[:n:n]
}

func ParseInstance(s string) (Instance, error) {
	if s == "" {
		return Instance{}, nil
	}

	parts := strings.Split(s, ".")
	out := make(Instance, len(parts))

	for n, p := range parts {
		idx, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}

		out[n] = idx
	}

	return out, nil
}

// ExecKey identifies one execution of a node within a run: "{node}" or
// "{node}#{instance}".
type ExecKey string

func MakeExecKey(nodeID string, instance Instance) ExecKey {
	if len(instance) == 0 {
		return ExecKey(nodeID)
	}

	return ExecKey(nodeID + "#" + instance.String())
}

func (k ExecKey) Parse() (string, Instance) {
	nodeID, inst, ok := strings.Cut(string(k), "#")
	if !ok {
		return nodeID, Instance{}
	}

	instance, err := ParseInstance(inst)
	if err != nil {
		return nodeID, Instance{}
	}

	return nodeID, instance
}

// Run is the cached projection of a workflow run.
type Run struct {
	ID                string     `json:"id"`
	DefinitionID      string     `json:"definition_id"`
	DefinitionVersion int        `json:"definition_version"`
	TriggerID         *string    `json:"trigger_id,omitempty"`
	StartNodeID       string     `json:"start_node_id,omitempty"`
	Status            RunStatus  `json:"status"`
	Error             string     `json:"error,omitempty"`
	CancelRequested   bool       `json:"cancel_requested,omitempty"`
	LastSequence      int64      `json:"last_sequence"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// NodeExecution is the cached projection of one (run, node, instance).
type NodeExecution struct {
	RunID          string          `json:"run_id"`
	NodeID         string          `json:"node_id"`
	Instance       Instance        `json:"instance"`
	Status         ExecutionStatus `json:"status"`
	OutputKey      string          `json:"output_key,omitempty"`
	ItemCount      int             `json:"item_count,omitempty"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	ReadyAt        *time.Time      `json:"ready_at,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func (e *NodeExecution) Key() ExecKey {
	return MakeExecKey(e.NodeID, e.Instance)
}
