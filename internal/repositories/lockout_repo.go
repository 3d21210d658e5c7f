package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// LockoutRepository handles database operations for account lockouts.
// At most one row exists per identity; the unique constraint enforces it.
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// Upsert creates or refreshes the lockout for an identity.
func (r *LockoutRepository) Upsert(ctx context.Context, identity, reason string, lockedUntil time.Time) error {
	query := `
		INSERT INTO account_lockouts (identity, reason, locked_at, locked_until)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (identity) DO UPDATE SET
			reason = EXCLUDED.reason,
			locked_at = now(),
			locked_until = EXCLUDED.locked_until
	`

	_, err := r.db.Pool.Exec(ctx, query, identity, reason, lockedUntil)
	return err
}

// GetActive returns the unexpired lockout for an identity, or nil.
func (r *LockoutRepository) GetActive(ctx context.Context, identity string) (*models.AccountLockout, error) {
	query := `
		SELECT id, identity, reason, locked_at, locked_until FROM account_lockouts
		WHERE identity = $1 AND locked_until > now()
	`

	var l models.AccountLockout
	err := r.db.Pool.QueryRow(ctx, query, identity).Scan(&l.ID, &l.Identity, &l.Reason, &l.LockedAt, &l.LockedUntil)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Delete removes the lockout for an identity. No-op if none exists.
func (r *LockoutRepository) Delete(ctx context.Context, identity string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM account_lockouts WHERE identity = $1`, identity)
	return err
}

// DeleteAll removes every lockout and returns how many were cleared.
// Backs the emergency unlock operation.
func (r *LockoutRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM account_lockouts`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired prunes lockouts whose windows have run out.
func (r *LockoutRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM account_lockouts WHERE locked_until <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ActiveCount returns how many identities are currently locked out.
func (r *LockoutRepository) ActiveCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM account_lockouts WHERE locked_until > now()`).Scan(&count)
	return count, err
}
