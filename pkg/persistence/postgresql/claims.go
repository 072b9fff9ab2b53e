package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/aide/pkg/persistence"
)

// ClaimStore keeps run leases in run_claims. It is the fallback when no
// Redis is configured.
type ClaimStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewClaimStore(db *sql.DB, logger *slog.Logger) *ClaimStore {
	return &ClaimStore{db: db, logger: logger}
}

func (s *ClaimStore) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	now := time.Now().UTC()
	claim := persistence.Claim{RunID: runID, Owner: owner, ExpiresAt: now.Add(ttl)}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO run_claims (run_id, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE run_claims.expires_at <= $4 OR run_claims.owner = EXCLUDED.owner
		RETURNING run_id`, runID, owner, claim.ExpiresAt, now).Scan(&claim.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("AcquireClaim", runID, persistence.ErrClaimHeld)
		}

		return nil, persistence.NewStoreError("AcquireClaim", runID, err)
	}

	return &claim, nil
}

func (s *ClaimStore) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	claim := persistence.Claim{RunID: runID, Owner: owner, ExpiresAt: time.Now().UTC().Add(ttl)}

	res, err := s.db.ExecContext(ctx, `UPDATE run_claims SET expires_at = $3 WHERE run_id = $1 AND owner = $2`, runID, owner, claim.ExpiresAt)
	if err != nil {
		return nil, persistence.NewStoreError("RenewClaim", runID, err)
	}

	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, persistence.NewStoreError("RenewClaim", runID, persistence.ErrClaimLost)
	}

	return &claim, nil
}

func (s *ClaimStore) Release(ctx context.Context, runID, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_claims WHERE run_id = $1 AND owner = $2`, runID, owner)
	if err != nil {
		return persistence.NewStoreError("ReleaseClaim", runID, err)
	}

	return nil
}

func (s *ClaimStore) Expired(ctx context.Context, now time.Time) ([]persistence.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, owner, expires_at FROM run_claims WHERE expires_at <= $1 ORDER BY run_id`, now)
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredClaims", "", err)
	}

	defer closeRows(ctx, s.logger, rows)

	var out []persistence.Claim

	for rows.Next() {
		var c persistence.Claim
		if err := rows.Scan(&c.RunID, &c.Owner, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
