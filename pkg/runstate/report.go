package runstate

import (
	"github.com/dukex/aide/pkg/models"
)

// NodeSummary aggregates the executions of one node.
type NodeSummary struct {
	NodeID    string         `json:"node_id"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Running   int            `json:"running"`
	Ready     int            `json:"ready"`
	Failures  []FailedDetail `json:"failures,omitempty"`
}

type FailedDetail struct {
	Instance models.Instance `json:"instance"`
	Kind     string          `json:"kind"`
	Message  string          `json:"message"`
}

// Report is the status view of a run returned to API callers.
type Report struct {
	Run        *models.Run            `json:"run"`
	Nodes      []NodeSummary          `json:"nodes"`
	Executions []models.NodeExecution `json:"executions"`
}

// Breakdown summarises executions per node in first-seen key order.
func (s *State) Breakdown() []NodeSummary {
	index := make(map[string]int)
	var out []NodeSummary

	for _, exec := range s.Executions() {
		i, ok := index[exec.NodeID]
		if !ok {
			i = len(out)
			index[exec.NodeID] = i
			out = append(out, NodeSummary{NodeID: exec.NodeID})
		}

		sum := &out[i]

		switch exec.Status {
		case models.ExecutionCompleted:
			sum.Completed++
		case models.ExecutionFailed:
			sum.Failed++
			sum.Failures = append(sum.Failures, FailedDetail{Instance: exec.Instance, Kind: exec.FailureKind, Message: exec.FailureMessage})
		case models.ExecutionSkipped:
			sum.Skipped++
		case models.ExecutionRunning:
			sum.Running++
		case models.ExecutionReady:
			sum.Ready++
		}
	}

	return out
}

func (s *State) Report() *Report {
	return &Report{Run: s.Run(), Nodes: s.Breakdown(), Executions: s.Executions()}
}
