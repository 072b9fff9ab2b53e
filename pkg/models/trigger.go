package models

import (
	"reflect"
	"strings"
	"time"
)

type TriggerKind string

const (
	TriggerSchedule         TriggerKind = "schedule"
	TriggerWebhook          TriggerKind = "webhook"
	TriggerIntegrationEvent TriggerKind = "integration_event"
	TriggerManual           TriggerKind = "manual"
)

// MissedBehavior controls what a schedule does after the scheduler was down
// across one or more fire times.
type MissedBehavior string

const (
	MissedSkip           MissedBehavior = "skip"
	MissedRunImmediately MissedBehavior = "run_immediately"
)

// TriggerConfig is the config variant of trigger nodes.
type TriggerConfig struct {
	Kind      TriggerKind    `json:"kind"                 validate:"required,oneof=schedule webhook integration_event manual"`
	Cron      string         `json:"cron,omitempty"       validate:"required_if=Kind schedule"`
	Timezone  string         `json:"timezone,omitempty"   validate:"omitempty,timezone"`
	Missed    MissedBehavior `json:"missed,omitempty"     validate:"omitempty,oneof=skip run_immediately"`
	Path      string         `json:"path,omitempty"       validate:"required_if=Kind webhook"`
	EventType string         `json:"event_type,omitempty" validate:"required_if=Kind integration_event"`
	Source    string         `json:"source,omitempty"     validate:"required_if=Kind integration_event"`
	Disabled  bool           `json:"disabled,omitempty"`
}

// MatchKey is the kind-specific lookup key stored in the trigger index.
func (c TriggerConfig) MatchKey() string {
	switch c.Kind {
	case TriggerSchedule:
		tz := c.Timezone
		if tz == "" {
			tz = "UTC"
		}

		return strings.TrimSpace(c.Cron) + "|" + tz
	case TriggerWebhook:
		return NormalizeWebhookPath(c.Path)
	case TriggerIntegrationEvent:
		return EventMatchKey(c.Source, c.EventType)
	default:
		return ""
	}
}

func NormalizeWebhookPath(path string) string {
	return "/" + strings.Trim(strings.TrimSpace(path), "/")
}

func EventMatchKey(source, eventType string) string {
	return source + "|" + eventType
}

// TriggerEntry is the denormalized index row of one trigger node.
type TriggerEntry struct {
	ID           string        `json:"id"`
	DefinitionID string        `json:"definition_id"`
	NodeID       string        `json:"node_id"`
	Kind         TriggerKind   `json:"kind"`
	MatchKey     string        `json:"match_key"`
	Enabled      bool          `json:"enabled"`
	Config       TriggerConfig `json:"config"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SameAs reports whether two entries agree on every definition-derived field.
func (e *TriggerEntry) SameAs(other *TriggerEntry) bool {
	return e.ID == other.ID &&
		e.DefinitionID == other.DefinitionID &&
		e.NodeID == other.NodeID &&
		e.Kind == other.Kind &&
		e.MatchKey == other.MatchKey &&
		e.Enabled == other.Enabled &&
		reflect.DeepEqual(e.Config, other.Config)
}
