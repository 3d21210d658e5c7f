package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// PolicyRepository handles database operations for session policies
type PolicyRepository struct {
	db *database.DB
}

// NewPolicyRepository creates a new PolicyRepository
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `id, role, max_concurrent_sessions, session_timeout_seconds, required_trust_level,
	risk_threshold, require_mfa, force_unique_session, created_at`

func scanPolicy(row interface{ Scan(...any) error }) (*models.SessionPolicy, error) {
	var p models.SessionPolicy
	var timeoutSeconds int64
	err := row.Scan(
		&p.ID, &p.Role, &p.MaxConcurrentSessions, &timeoutSeconds, &p.RequiredTrustLevel,
		&p.RiskThreshold, &p.RequireMFA, &p.ForceUniqueSession, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.SessionTimeout = time.Duration(timeoutSeconds) * time.Second
	return &p, nil
}

// GetByRole returns the stored policy for a role, or nil when the role has
// never been materialized.
func (r *PolicyRepository) GetByRole(ctx context.Context, role string) (*models.SessionPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM session_policies WHERE role = $1`

	p, err := scanPolicy(r.db.Pool.QueryRow(ctx, query, role))
	if err != nil {
		if mapped := database.MapPostgresError(err); errors.Is(mapped, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Create persists a policy. The unique role constraint makes concurrent
// lazy materialization safe: the loser of the race reads the winner's row.
func (r *PolicyRepository) Create(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error) {
	query := `
		INSERT INTO session_policies (role, max_concurrent_sessions, session_timeout_seconds,
			required_trust_level, risk_threshold, require_mfa, force_unique_session)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + policyColumns

	created, err := scanPolicy(r.db.Pool.QueryRow(ctx, query,
		p.Role, p.MaxConcurrentSessions, int64(p.SessionTimeout/time.Second),
		p.RequiredTrustLevel, p.RiskThreshold, p.RequireMFA, p.ForceUniqueSession,
	))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return created, nil
}

// List returns every materialized policy.
func (r *PolicyRepository) List(ctx context.Context) ([]*models.SessionPolicy, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+policyColumns+` FROM session_policies ORDER BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*models.SessionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
