package repositories

import (
	"context"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// SessionRepository handles database operations for sessions
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, identity, device_fingerprint, device_trust, ip_address, user_agent,
	country, city, latitude, longitude, risk_score, risk_level, status, termination_reason,
	policy_role, created_at, last_activity_at, expires_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.Identity, &s.DeviceFingerprint, &s.DeviceTrust, &s.IPAddress, &s.UserAgent,
		&s.Country, &s.City, &s.Latitude, &s.Longitude, &s.RiskScore, &s.RiskLevel, &s.Status, &s.TerminationReason,
		&s.PolicyRole, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create persists a new session and returns it with generated fields.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (user_id, identity, device_fingerprint, device_trust, ip_address, user_agent,
			country, city, latitude, longitude, risk_score, risk_level, policy_role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + sessionColumns

	created, err := scanSession(r.db.Pool.QueryRow(ctx, query,
		s.UserID, s.Identity, s.DeviceFingerprint, s.DeviceTrust, s.IPAddress, s.UserAgent,
		s.Country, s.City, s.Latitude, s.Longitude, s.RiskScore, s.RiskLevel, s.PolicyRole, s.ExpiresAt,
	))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return created, nil
}

// GetByID returns a session by id, or ErrNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return s, nil
}

// ActiveByUser returns a user's active sessions ordered oldest activity first,
// so concurrency enforcement can trim from the front.
func (r *SessionRepository) ActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY last_activity_at ASC
	`

	return r.querySessions(ctx, query, userID)
}

// RecentByUser returns a user's most recent sessions regardless of status.
func (r *SessionRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.querySessions(ctx, query, userID, limit)
}

// CountByUserSince returns how many sessions a user created since the cutoff.
func (r *SessionRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&count)
	return count, err
}

// Terminate moves a session to terminated with a reason. The status guard
// makes it idempotent: an already-terminated session is untouched and its
// original reason preserved.
func (r *SessionRepository) Terminate(ctx context.Context, id, reason string) error {
	query := `
		UPDATE sessions SET status = 'terminated', termination_reason = $2
		WHERE id = $1 AND status = 'active'
	`

	_, err := r.db.Pool.Exec(ctx, query, id, reason)
	return err
}

// TerminateAllForUser terminates every active session a user holds.
func (r *SessionRepository) TerminateAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	query := `
		UPDATE sessions SET status = 'terminated', termination_reason = $2
		WHERE user_id = $1 AND status = 'active'
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TerminateExpired closes active sessions whose expiry has passed. Catches
// sessions whose tokens were never presented again after expiring.
func (r *SessionRepository) TerminateExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE sessions SET status = 'terminated', termination_reason = $1
		WHERE status = 'active' AND expires_at < now()
	`

	tag, err := r.db.Pool.Exec(ctx, query, models.TerminationExpired)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TouchActivity refreshes a session's last-activity timestamp.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET last_activity_at = now() WHERE id = $1 AND status = 'active'`, id)
	return err
}

// ActiveAboveRisk returns active sessions at or above a risk score.
// Feeds automated mitigation.
func (r *SessionRepository) ActiveAboveRisk(ctx context.Context, cutoff int) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = 'active' AND risk_score >= $1
	`

	return r.querySessions(ctx, query, cutoff)
}

// RiskBucketCounts returns active-session counts per risk level created
// within the window.
func (r *SessionRepository) RiskBucketCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT risk_level, COUNT(*) FROM sessions
		WHERE status = 'active' AND created_at >= $1
		GROUP BY risk_level
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[string]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		buckets[level] = count
	}
	return buckets, rows.Err()
}

// LocationCluster is one location's session volume for monitoring views.
type LocationCluster struct {
	Country      string
	City         string
	SessionCount int
	MaxRiskScore int
}

// HighRiskLocationClusters groups active sessions at or above the risk floor
// by location, returning clusters meeting the minimum size, worst first.
func (r *SessionRepository) HighRiskLocationClusters(ctx context.Context, riskFloor, minCluster int) ([]LocationCluster, error) {
	query := `
		SELECT country, city, COUNT(*) AS cnt, MAX(risk_score) FROM sessions
		WHERE status = 'active' AND risk_score >= $1 AND country <> ''
		GROUP BY country, city
		HAVING COUNT(*) >= $2
		ORDER BY cnt DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, riskFloor, minCluster)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []LocationCluster
	for rows.Next() {
		var c LocationCluster
		if err := rows.Scan(&c.Country, &c.City, &c.SessionCount, &c.MaxRiskScore); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// TopLocations returns the locations with the most sessions created within
// the window, for the monitoring dashboard.
func (r *SessionRepository) TopLocations(ctx context.Context, since time.Time, limit int) ([]LocationCluster, error) {
	query := `
		SELECT country, city, COUNT(*) AS cnt, MAX(risk_score) FROM sessions
		WHERE created_at >= $1 AND country <> ''
		GROUP BY country, city
		ORDER BY cnt DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []LocationCluster
	for rows.Next() {
		var c LocationCluster
		if err := rows.Scan(&c.Country, &c.City, &c.SessionCount, &c.MaxRiskScore); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
