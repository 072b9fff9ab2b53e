// Package postgresql provides PostgreSQL persistence for the engine.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	events      *EventLog
	definitions *DefinitionRepository
	triggers    *TriggerRepository
	memory      *MemoryRepository
	blobs       *BlobStore
	runs        *RunRepository
}

// NewPersistence connects, pings and migrates the database.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		events:      NewEventLog(database, logger),
		definitions: NewDefinitionRepository(database, logger),
		triggers:    NewTriggerRepository(database, logger),
		memory:      NewMemoryRepository(database),
		blobs:       NewBlobStore(database),
		runs:        NewRunRepository(database, logger),
	}, nil
}

func (p *Persistence) Events() persistence.EventLog                  { return p.events }
func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }
func (p *Persistence) Triggers() persistence.TriggerRepository       { return p.triggers }
func (p *Persistence) Memory() persistence.MemoryRepository          { return p.memory }
func (p *Persistence) Blobs() persistence.BlobStore                  { return p.blobs }
func (p *Persistence) Runs() persistence.RunRepository               { return p.runs }

// DB exposes the pool to components sharing it, such as the claim store.
func (p *Persistence) DB() *sql.DB { return p.db }

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
