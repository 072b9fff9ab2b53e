package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/persistence"
)

// EventLog serializes appends per run by locking the run's row in
// run_sequences.
type EventLog struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventLog(db *sql.DB, logger *slog.Logger) *EventLog {
	return &EventLog{db: db, logger: logger}
}

func (l *EventLog) Append(ctx context.Context, runID string, expectedLast int64, envs ...events.Envelope) ([]events.Envelope, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO run_sequences (run_id, last_sequence) VALUES ($1, 0) ON CONFLICT (run_id) DO NOTHING`, runID)
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	var last int64

	err = tx.QueryRowContext(ctx, `SELECT last_sequence FROM run_sequences WHERE run_id = $1 FOR UPDATE`, runID).Scan(&last)
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	if expectedLast != persistence.AnySequence && expectedLast != last {
		return nil, persistence.NewStoreError("AppendEvents", runID,
			fmt.Errorf("%w: expected %d, log is at %d", persistence.ErrSequenceConflict, expectedLast, last))
	}

	out := make([]events.Envelope, len(envs))

	for i, env := range envs {
		env.RunID = runID
		env.Sequence = last + int64(i) + 1
		out[i] = env

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_events (run_id, sequence, schema_version, kind, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, env.Sequence, env.SchemaVersion, string(env.Kind), string(env.Payload), env.Timestamp)
		if err != nil {
			return nil, persistence.NewStoreError("AppendEvents", runID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE run_sequences SET last_sequence = $2 WHERE run_id = $1`, runID, last+int64(len(envs)))
	if err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence.NewStoreError("AppendEvents", runID, err)
	}

	return out, nil
}

func (l *EventLog) Load(ctx context.Context, runID string, afterSequence int64) ([]events.Envelope, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT
			sequence
		  , schema_version
		  , kind
		  , payload
		  , occurred_at
		FROM run_events
		WHERE run_id = $1 AND sequence > $2
		ORDER BY sequence`, runID, afterSequence)
	if err != nil {
		return nil, persistence.NewStoreError("LoadEvents", runID, err)
	}

	defer closeRows(ctx, l.logger, rows)

	var out []events.Envelope

	for rows.Next() {
		env := events.Envelope{RunID: runID}

		var (
			kind    string
			payload []byte
		)

		if err := rows.Scan(&env.Sequence, &env.SchemaVersion, &kind, &payload, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event of run %s: %w", runID, err)
		}

		env.Kind = events.Kind(kind)
		env.Payload = payload
		env.Timestamp = env.Timestamp.UTC()
		out = append(out, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events of run %s: %w", runID, err)
	}

	if len(out) == 0 && afterSequence <= 0 {
		return nil, persistence.NewStoreError("LoadEvents", runID, persistence.ErrRunNotFound)
	}

	return out, nil
}
