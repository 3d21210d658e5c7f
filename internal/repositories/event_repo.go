package repositories

import (
	"context"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// EventRepository handles database operations for the security event log
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append writes one event row with its TTL already stamped.
func (r *EventRepository) Append(ctx context.Context, e *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (kind, identity, ip_address, metadata, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query, e.Kind, e.Identity, e.IPAddress, e.Metadata, e.ExpiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// CountByKindSince returns how many events of a kind an identity produced
// within the window.
func (r *EventRepository) CountByKindSince(ctx context.Context, kind, identity string, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE kind = $1 AND identity = $2 AND created_at >= $3`,
		kind, identity, since).Scan(&count)
	return count, err
}

// KindCountsSince returns event volume per kind within the window, for the
// monitoring dashboard.
func (r *EventRepository) KindCountsSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT kind, COUNT(*) FROM security_events WHERE created_at >= $1 GROUP BY kind`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// RecentByIdentity returns an identity's latest events, newest first.
func (r *EventRepository) RecentByIdentity(ctx context.Context, identity string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, kind, identity, ip_address, metadata, created_at, expires_at
		FROM security_events
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		var e models.SecurityEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Identity, &e.IPAddress, &e.Metadata, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteExpired prunes events past their TTL.
func (r *EventRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM security_events WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
