package web

import (
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/triggers"
)

// StartRunRequest is the body of a manual run. NodeID may be empty when the
// workflow has a single manual trigger.
type StartRunRequest struct {
	NodeID  string `json:"node_id,omitempty" validate:"omitempty,excludesall=:#"`
	Payload any    `json:"payload"`
}

type FireRequest struct {
	Payload any `json:"payload"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

type SetTriggerRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type RunResponse struct {
	RunID string `json:"run_id"`
}

type RunsResponse struct {
	RunIDs []string `json:"run_ids"`
}

type SaveWorkflowResponse struct {
	Workflow *models.Definition `json:"workflow"`
	Triggers TriggerChanges     `json:"triggers"`
}

type TriggerChanges struct {
	Added   []*models.TriggerEntry `json:"added"`
	Updated []*models.TriggerEntry `json:"updated"`
	Deleted []string               `json:"deleted"`
}

func newTriggerChanges(c triggers.Changes) TriggerChanges {
	out := TriggerChanges{Added: c.Added, Updated: c.Updated, Deleted: c.Deleted}

	if out.Added == nil {
		out.Added = []*models.TriggerEntry{}
	}

	if out.Updated == nil {
		out.Updated = []*models.TriggerEntry{}
	}

	if out.Deleted == nil {
		out.Deleted = []string{}
	}

	return out
}
