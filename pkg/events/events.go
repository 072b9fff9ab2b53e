// Package events defines the run event envelope and its typed payloads.
package events

import (
	"github.com/dukex/aide/pkg/models"
)

type Kind string

const (
	KindRunQueued     Kind = "run_queued"
	KindRunStarted    Kind = "run_started"
	KindNodeReady     Kind = "node_ready"
	KindNodeStarted   Kind = "node_started"
	KindNodeCompleted Kind = "node_completed"
	KindNodeFailed    Kind = "node_failed"
	KindNodeSkipped   Kind = "node_skipped"
	KindRunCompleted  Kind = "run_completed"
	KindRunFailed     Kind = "run_failed"
	KindRunCancelled  Kind = "run_cancelled"
)

// Payload is implemented by every event body.
type Payload interface {
	Kind() Kind
}

// RunQueued opens a run. The start trigger node, if any, is completed by
// this event with InputKey as its output.
type RunQueued struct {
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`
	TriggerID         string `json:"trigger_id,omitempty"`
	StartNodeID       string `json:"start_node_id,omitempty"`
	InputKey          string `json:"input_key,omitempty"`
}

type RunStarted struct {
	OrchestratorID string `json:"orchestrator_id"`
}

type NodeReady struct {
	NodeID   string          `json:"node_id"`
	Instance models.Instance `json:"instance"`
}

type NodeStarted struct {
	NodeID   string          `json:"node_id"`
	Instance models.Instance `json:"instance"`
	WorkerID string          `json:"worker_id,omitempty"`
}

// NodeCompleted carries a blob reference, never the output itself.
// ItemCount is set by fan-out nodes.
type NodeCompleted struct {
	NodeID    string          `json:"node_id"`
	Instance  models.Instance `json:"instance"`
	OutputKey string          `json:"output_key"`
	ItemCount int             `json:"item_count,omitempty"`
}

type NodeFailed struct {
	NodeID      string          `json:"node_id"`
	Instance    models.Instance `json:"instance"`
	FailureKind string          `json:"kind"`
	Message     string          `json:"message"`
}

type NodeSkipped struct {
	NodeID   string          `json:"node_id"`
	Instance models.Instance `json:"instance"`
	Reason   string          `json:"reason,omitempty"`
}

// RunCompleted lists the output keys of completed sink nodes.
type RunCompleted struct {
	Outputs map[models.ExecKey]string `json:"outputs,omitempty"`
}

type NodeFailure struct {
	NodeID   string          `json:"node_id"`
	Instance models.Instance `json:"instance"`
	Kind     string          `json:"kind"`
	Message  string          `json:"message"`
}

type RunFailed struct {
	Error  string        `json:"error"`
	Failed []NodeFailure `json:"failed,omitempty"`
}

type RunCancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (RunQueued) Kind() Kind     { return KindRunQueued }
func (RunStarted) Kind() Kind    { return KindRunStarted }
func (NodeReady) Kind() Kind     { return KindNodeReady }
func (NodeStarted) Kind() Kind   { return KindNodeStarted }
func (NodeCompleted) Kind() Kind { return KindNodeCompleted }
func (NodeFailed) Kind() Kind    { return KindNodeFailed }
func (NodeSkipped) Kind() Kind   { return KindNodeSkipped }
func (RunCompleted) Kind() Kind  { return KindRunCompleted }
func (RunFailed) Kind() Kind     { return KindRunFailed }
func (RunCancelled) Kind() Kind  { return KindRunCancelled }

func newPayload(kind Kind) (Payload, bool) {
	switch kind {
	case KindRunQueued:
		return &RunQueued{}, true
	case KindRunStarted:
		return &RunStarted{}, true
	case KindNodeReady:
		return &NodeReady{}, true
	case KindNodeStarted:
		return &NodeStarted{}, true
	case KindNodeCompleted:
		return &NodeCompleted{}, true
	case KindNodeFailed:
		return &NodeFailed{}, true
	case KindNodeSkipped:
		return &NodeSkipped{}, true
	case KindRunCompleted:
		return &RunCompleted{}, true
	case KindRunFailed:
		return &RunFailed{}, true
	case KindRunCancelled:
		return &RunCancelled{}, true
	default:
		return nil, false
	}
}
