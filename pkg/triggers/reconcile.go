// Package triggers keeps the trigger index in step with saved definitions.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// Changes lists what one reconciliation wrote to the index.
type Changes struct {
	Added   []*models.TriggerEntry `json:"added,omitempty"`
	Updated []*models.TriggerEntry `json:"updated,omitempty"`
	Deleted []string               `json:"deleted,omitempty"`
}

func (c Changes) HasChanges() bool {
	return len(c.Added)+len(c.Updated)+len(c.Deleted) > 0
}

// EntryID is the stable index id of a trigger node. It only depends on the
// definition and node ids, so re-saving a definition keeps its trigger ids.
func EntryID(definitionID, nodeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("aide:trigger:"+definitionID+"/"+nodeID)).String()
}

// Entry builds the index row of one trigger node.
func Entry(definitionID string, node *models.Node) (*models.TriggerEntry, error) {
	cfg, err := node.TriggerConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Kind == models.TriggerSchedule && cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	if cfg.Kind == models.TriggerSchedule && cfg.Missed == "" {
		cfg.Missed = models.MissedSkip
	}

	return &models.TriggerEntry{
		ID:           EntryID(definitionID, node.ID),
		DefinitionID: definitionID,
		NodeID:       node.ID,
		Kind:         cfg.Kind,
		MatchKey:     cfg.MatchKey(),
		Enabled:      !cfg.Disabled,
		Config:       cfg,
	}, nil
}

type Reconciler struct {
	repo   persistence.TriggerRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciler(repo persistence.TriggerRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: logger.With("module", "triggers"), now: time.Now}
}

// Reconcile makes the index mirror the trigger nodes of def. Entries that
// did not change are not written, so reconciling twice writes nothing the
// second time.
func (r *Reconciler) Reconcile(ctx context.Context, def *models.Definition) (Changes, error) {
	existing, err := r.repo.ByDefinition(ctx, def.ID)
	if err != nil {
		return Changes{}, fmt.Errorf("failed to list triggers of %s: %w", def.ID, err)
	}

	current := make(map[string]*models.TriggerEntry, len(existing))
	for _, e := range existing {
		current[e.ID] = e
	}

	var changes Changes

	now := r.now().UTC()
	wanted := make(map[string]bool)

	for _, node := range def.TriggerNodes() {
		entry, err := Entry(def.ID, node)
		if err != nil {
			return Changes{}, err
		}

		wanted[entry.ID] = true

		old, ok := current[entry.ID]

		switch {
		case !ok:
			entry.CreatedAt, entry.UpdatedAt = now, now
			changes.Added = append(changes.Added, entry)
		case !old.SameAs(entry):
			entry.CreatedAt, entry.UpdatedAt = old.CreatedAt, now
			changes.Updated = append(changes.Updated, entry)
		}
	}

	for _, e := range existing {
		if !wanted[e.ID] {
			changes.Deleted = append(changes.Deleted, e.ID)
		}
	}

	if !changes.HasChanges() {
		return changes, nil
	}

	upserts := append(append([]*models.TriggerEntry{}, changes.Added...), changes.Updated...)

	if err := r.repo.Apply(ctx, upserts, changes.Deleted); err != nil {
		return Changes{}, fmt.Errorf("failed to apply trigger changes of %s: %w", def.ID, err)
	}

	r.logger.InfoContext(ctx, "trigger index reconciled",
		"workflow_id", def.ID, "version", def.Version,
		"added", len(changes.Added), "updated", len(changes.Updated), "deleted", len(changes.Deleted))

	return changes, nil
}

// DeleteForDefinition removes every trigger of a removed workflow.
func (r *Reconciler) DeleteForDefinition(ctx context.Context, definitionID string) ([]string, error) {
	existing, err := r.repo.ByDefinition(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers of %s: %w", definitionID, err)
	}

	ids := make([]string, 0, len(existing))
	for _, e := range existing {
		ids = append(ids, e.ID)
	}

	if len(ids) == 0 {
		return ids, nil
	}

	if err := r.repo.Apply(ctx, nil, ids); err != nil {
		return nil, fmt.Errorf("failed to delete triggers of %s: %w", definitionID, err)
	}

	return ids, nil
}

// SetEnabled overrides the enabled flag of one trigger until its definition
// is saved again.
func (r *Reconciler) SetEnabled(ctx context.Context, id string, enabled bool) (*models.TriggerEntry, error) {
	entry, err := r.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.Enabled == enabled {
		return entry, nil
	}

	updated := *entry
	updated.Enabled = enabled
	updated.UpdatedAt = r.now().UTC()

	if err := r.repo.Apply(ctx, []*models.TriggerEntry{&updated}, nil); err != nil {
		return nil, fmt.Errorf("failed to update trigger %s: %w", id, err)
	}

	r.logger.InfoContext(ctx, "trigger toggled", "trigger_id", id, "enabled", enabled)

	return &updated, nil
}
