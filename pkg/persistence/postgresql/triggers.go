package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

const triggerColumns = `
	id
  , definition_id
  , node_id
  , kind
  , match_key
  , enabled
  , config
  , created_at
  , updated_at`

func (r *TriggerRepository) ByID(ctx context.Context, id string) (*models.TriggerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM trigger_index WHERE id = $1`, id)

	entry, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetTrigger", id, persistence.ErrTriggerNotFound)
		}

		return nil, persistence.NewStoreError("GetTrigger", id, err)
	}

	return entry, nil
}

func (r *TriggerRepository) ByDefinition(ctx context.Context, definitionID string) ([]*models.TriggerEntry, error) {
	return r.query(ctx, "TriggersByDefinition", `WHERE definition_id = $1`, definitionID)
}

func (r *TriggerRepository) ByKind(ctx context.Context, kind models.TriggerKind) ([]*models.TriggerEntry, error) {
	return r.query(ctx, "TriggersByKind", `WHERE kind = $1`, string(kind))
}

func (r *TriggerRepository) ByMatchKey(ctx context.Context, kind models.TriggerKind, matchKey string) ([]*models.TriggerEntry, error) {
	return r.query(ctx, "TriggersByMatchKey", `WHERE kind = $1 AND match_key = $2`, string(kind), matchKey)
}

func (r *TriggerRepository) query(ctx context.Context, op, where string, args ...any) ([]*models.TriggerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM trigger_index `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, persistence.NewStoreError(op, "", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]*models.TriggerEntry, 0)

	for rows.Next() {
		entry, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return out, nil
}

func scanTrigger(row scanner) (*models.TriggerEntry, error) {
	var (
		entry  models.TriggerEntry
		kind   string
		config []byte
	)

	err := row.Scan(&entry.ID, &entry.DefinitionID, &entry.NodeID, &kind, &entry.MatchKey, &entry.Enabled, &config, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.Kind = models.TriggerKind(kind)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()

	if err := json.Unmarshal(config, &entry.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config %s: %w", entry.ID, err)
	}

	return &entry, nil
}

// Apply runs the whole reconcile diff in one transaction.
func (r *TriggerRepository) Apply(ctx context.Context, upserts []*models.TriggerEntry, deletes []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoreError("ApplyTriggers", "", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trigger_index WHERE id = $1`, id); err != nil {
			return persistence.NewStoreError("ApplyTriggers", id, err)
		}
	}

	for _, entry := range upserts {
		config, err := json.Marshal(entry.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger config %s: %w", entry.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO trigger_index (id, definition_id, node_id, kind, match_key, enabled, config, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				definition_id = EXCLUDED.definition_id,
				node_id = EXCLUDED.node_id,
				kind = EXCLUDED.kind,
				match_key = EXCLUDED.match_key,
				enabled = EXCLUDED.enabled,
				config = EXCLUDED.config,
				updated_at = EXCLUDED.updated_at`,
			entry.ID, entry.DefinitionID, entry.NodeID, string(entry.Kind), entry.MatchKey, entry.Enabled, string(config), entry.CreatedAt, entry.UpdatedAt)
		if err != nil {
			return persistence.NewStoreError("ApplyTriggers", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewStoreError("ApplyTriggers", "", err)
	}

	return nil
}
