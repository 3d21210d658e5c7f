package repositories

import (
	"context"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// RecordAttempt appends a login attempt row.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (identity, ip_address, user_agent, device_fingerprint, success, failure_reason, risk_score, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Identity,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.Success,
		attempt.FailureReason,
		attempt.RiskScore,
		attempt.ExpiresAt,
	)

	return err
}

// FailedCountByIdentity returns failed attempts for an identity since a cutoff.
func (r *LoginAttemptRepository) FailedCountByIdentity(ctx context.Context, identity string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE identity = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identity, since).Scan(&count)
	return count, err
}

// FailedCountByIP returns failed attempts from an IP since a cutoff.
func (r *LoginAttemptRepository) FailedCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// IPFailureCluster is one IP's failure volume within a detection window.
type IPFailureCluster struct {
	IPAddress string
	Count     int
}

// GroupFailuresByIP returns IPs whose failed-attempt volume since the cutoff
// meets the threshold, ordered worst first. Feeds the brute-force detector.
func (r *LoginAttemptRepository) GroupFailuresByIP(ctx context.Context, since time.Time, threshold int) ([]IPFailureCluster, error) {
	query := `
		SELECT ip_address, COUNT(*) AS cnt FROM login_attempts
		WHERE success = false AND attempt_time >= $1
		GROUP BY ip_address
		HAVING COUNT(*) >= $2
		ORDER BY cnt DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []IPFailureCluster
	for rows.Next() {
		var c IPFailureCluster
		if err := rows.Scan(&c.IPAddress, &c.Count); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// DistinctIPsByIdentity returns the distinct source IPs an identity has used
// since the cutoff.
func (r *LoginAttemptRepository) DistinctIPsByIdentity(ctx context.Context, identity string, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT ip_address FROM login_attempts
		WHERE identity = $1 AND attempt_time >= $2
	`

	rows, err := r.db.Pool.Query(ctx, query, identity, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// SuccessHourHistogram returns successful-login counts bucketed by hour of
// day since the cutoff. Feeds the time-of-day risk assessor.
func (r *LoginAttemptRepository) SuccessHourHistogram(ctx context.Context, identity string, since time.Time) (map[int]int, error) {
	query := `
		SELECT EXTRACT(HOUR FROM attempt_time)::int AS hour, COUNT(*) FROM login_attempts
		WHERE identity = $1 AND success = true AND attempt_time >= $2
		GROUP BY hour
	`

	rows, err := r.db.Pool.Query(ctx, query, identity, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := make(map[int]int)
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		histogram[hour] = count
	}
	return histogram, rows.Err()
}

// DeleteExpired removes attempts past their retention expiry.
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
