package models

import (
	"encoding/json"
	"time"
)

// InputRef points at the value feeding one input port. Key is a blob key;
// Port selects a field of a multi-port output; Index selects one element of
// a fan-out's item array. Gather lists the per-item sources of a fan-in port.
type InputRef struct {
	Key    string     `json:"key,omitempty"`
	Port   string     `json:"port,omitempty"`
	Index  *int       `json:"index,omitempty"`
	Gather []InputRef `json:"gather,omitempty"`
}

// WorkItem asks a worker to execute one node execution of a run.
type WorkItem struct {
	RunID             string              `json:"run_id"`
	DefinitionID      string              `json:"definition_id"`
	DefinitionVersion int                 `json:"definition_version"`
	NodeID            string              `json:"node_id"`
	Instance          Instance            `json:"instance"`
	Inputs            map[string]InputRef `json:"inputs"`
	EnqueuedAt        time.Time           `json:"enqueued_at"`
}

func (w *WorkItem) Key() ExecKey {
	return MakeExecKey(w.NodeID, w.Instance)
}

// RunJob is the run-ready job claimed by an orchestrator.
type RunJob struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// RunNotice wakes the orchestrator owning a run after an event was appended.
type RunNotice struct {
	RunID    string `json:"run_id"`
	Sequence int64  `json:"sequence"`
}

// WorkflowMemory is the per-definition opaque state written by record nodes.
type WorkflowMemory struct {
	WorkflowID string          `json:"workflow_id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
