package repositories

import (
	"context"
	"errors"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// DeviceRepository handles database operations for trusted devices
type DeviceRepository struct {
	db *database.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, user_id, fingerprint, trust_level, user_agent, last_ip, seen_count, first_seen, last_seen`

// Get returns a user's device by fingerprint, or nil when unseen.
func (r *DeviceRepository) Get(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE user_id = $1 AND fingerprint = $2`

	var d models.TrustedDevice
	err := r.db.Pool.QueryRow(ctx, query, userID, fingerprint).Scan(
		&d.ID, &d.UserID, &d.Fingerprint, &d.TrustLevel, &d.UserAgent, &d.LastIP,
		&d.SeenCount, &d.FirstSeen, &d.LastSeen,
	)
	if err != nil {
		if mapped := database.MapPostgresError(err); errors.Is(mapped, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// RecordSighting inserts a device on first sight or bumps its seen count and
// freshness on every later login from it.
func (r *DeviceRepository) RecordSighting(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error) {
	query := `
		INSERT INTO trusted_devices (user_id, fingerprint, user_agent, last_ip)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET
			seen_count = trusted_devices.seen_count + 1,
			user_agent = EXCLUDED.user_agent,
			last_ip = EXCLUDED.last_ip,
			last_seen = now()
		RETURNING ` + deviceColumns

	var d models.TrustedDevice
	err := r.db.Pool.QueryRow(ctx, query, userID, fingerprint, userAgent, ip).Scan(
		&d.ID, &d.UserID, &d.Fingerprint, &d.TrustLevel, &d.UserAgent, &d.LastIP,
		&d.SeenCount, &d.FirstSeen, &d.LastSeen,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &d, nil
}

// SetTrustLevel promotes or demotes a device's trust tier.
func (r *DeviceRepository) SetTrustLevel(ctx context.Context, userID, fingerprint string, level models.TrustLevel) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE trusted_devices SET trust_level = $3 WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint, level)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountForUser returns how many distinct devices a user has logged in from.
func (r *DeviceRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trusted_devices WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// TrustDistribution returns device counts per trust level across all users.
func (r *DeviceRepository) TrustDistribution(ctx context.Context) (map[models.TrustLevel]int64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT trust_level, COUNT(*) FROM trusted_devices GROUP BY trust_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dist := make(map[models.TrustLevel]int64)
	for rows.Next() {
		var level models.TrustLevel
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		dist[level] = count
	}
	return dist, rows.Err()
}
