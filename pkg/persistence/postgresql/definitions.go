package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

// Save inserts the next version. Two concurrent saves of one id collide on
// the primary key and the loser gets an error.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.Definition) (*models.Definition, error) {
	saved := *def
	saved.CreatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM definitions WHERE id = $1`, def.ID).Scan(&saved.Version)
	if err != nil {
		return nil, persistence.NewStoreError("SaveDefinition", def.ID, err)
	}

	body, err := codec.Marshal(codec.KindDefinition, &saved)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition %s: %w", def.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO definitions (id, version, name, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		saved.ID, saved.Version, saved.Name, string(body), saved.CreatedAt)
	if err != nil {
		return nil, persistence.NewStoreError("SaveDefinition", def.ID, err)
	}

	return &saved, nil
}

func (r *DefinitionRepository) Latest(ctx context.Context, id string) (*models.Definition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT body FROM definitions WHERE id = $1 ORDER BY version DESC LIMIT 1`, id)

	return r.scan(row, "LatestDefinition", id)
}

func (r *DefinitionRepository) Version(ctx context.Context, id string, version int) (*models.Definition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT body FROM definitions WHERE id = $1 AND version = $2`, id, version)

	return r.scan(row, "GetDefinition", fmt.Sprintf("%s@%d", id, version))
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.Definition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (id) body
		FROM definitions
		ORDER BY id, version DESC`)
	if err != nil {
		return nil, persistence.NewStoreError("ListDefinitions", "", err)
	}

	defer closeRows(ctx, r.logger, rows)

	defs := make([]*models.Definition, 0)

	for rows.Next() {
		def, err := r.scan(rows, "ListDefinitions", "")
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return defs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scan(row scanner, op, id string) (*models.Definition, error) {
	var body []byte

	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError(op, id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewStoreError(op, id, err)
	}

	var def models.Definition
	if err := codec.Unmarshal(body, codec.KindDefinition, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", id, err)
	}

	return &def, nil
}
