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

type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save never moves a projection backwards: rows with a newer last_sequence
// win.
func (r *RunRepository) Save(ctx context.Context, run *models.Run, executions []models.NodeExecution) error {
	if executions == nil {
		executions = []models.NodeExecution{}
	}

	execs, err := json.Marshal(executions)
	if err != nil {
		return fmt.Errorf("failed to marshal executions of run %s: %w", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, definition_id, definition_version, trigger_id, start_node_id, status, error,
			cancel_requested, last_sequence, executions, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			cancel_requested = EXCLUDED.cancel_requested,
			last_sequence = EXCLUDED.last_sequence,
			executions = EXCLUDED.executions,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
		WHERE runs.last_sequence <= EXCLUDED.last_sequence`,
		run.ID, run.DefinitionID, run.DefinitionVersion, run.TriggerID, run.StartNodeID, string(run.Status), run.Error,
		run.CancelRequested, run.LastSequence, string(execs), run.CreatedAt, run.StartedAt, run.FinishedAt)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

const runColumns = `
	id
  , definition_id
  , definition_version
  , trigger_id
  , start_node_id
  , status
  , error
  , cancel_requested
  , last_sequence
  , created_at
  , started_at
  , finished_at`

func scanRun(row scanner) (*models.Run, error) {
	var (
		run       models.Run
		triggerID sql.NullString
		status    string
		started   sql.NullTime
		finished  sql.NullTime
	)

	err := row.Scan(&run.ID, &run.DefinitionID, &run.DefinitionVersion, &triggerID, &run.StartNodeID, &status,
		&run.Error, &run.CancelRequested, &run.LastSequence, &run.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()

	if triggerID.Valid {
		run.TriggerID = &triggerID.String
	}

	if started.Valid {
		t := started.Time.UTC()
		run.StartedAt = &t
	}

	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}

	return &run, nil
}

func (r *RunRepository) ByID(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetRun", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewStoreError("GetRun", id, err)
	}

	return run, nil
}

func (r *RunRepository) ByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE definition_id = $1 ORDER BY created_at DESC`, definitionID)
	if err != nil {
		return nil, persistence.NewStoreError("RunsByDefinition", definitionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
