package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// AlertRepository handles database operations for security alerts
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, type, severity, status, description, identity, risk_score, evidence,
	created_at, updated_at, resolved_at, resolved_by`

func scanAlert(row interface{ Scan(...any) error }) (*models.SecurityAlert, error) {
	var a models.SecurityAlert
	err := row.Scan(
		&a.ID, &a.Type, &a.Severity, &a.Status, &a.Description, &a.Identity, &a.RiskScore, &a.Evidence,
		&a.CreatedAt, &a.UpdatedAt, &a.ResolvedAt, &a.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create persists a new alert in the active state.
func (r *AlertRepository) Create(ctx context.Context, a *models.SecurityAlert) (*models.SecurityAlert, error) {
	query := `
		INSERT INTO security_alerts (type, severity, description, identity, risk_score, evidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + alertColumns

	created, err := scanAlert(r.db.Pool.QueryRow(ctx, query,
		a.Type, a.Severity, a.Description, a.Identity, a.RiskScore, a.Evidence))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return created, nil
}

// Touch bumps an active alert's updated_at so recurring detections keep it
// out of the stale-resolution sweep.
func (r *AlertRepository) Touch(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE security_alerts SET updated_at = now() WHERE id = $1 AND status = 'active'`, id)
	return err
}

// ActiveByTypeIdentity returns the open alert for a type and identity, if
// one exists, so detectors update instead of duplicating.
func (r *AlertRepository) ActiveByTypeIdentity(ctx context.Context, alertType, identity string) (*models.SecurityAlert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM security_alerts
		WHERE type = $1 AND identity = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	a, err := scanAlert(r.db.Pool.QueryRow(ctx, query, alertType, identity))
	if err != nil {
		if mapped := database.MapPostgresError(err); errors.Is(mapped, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// Resolve closes an alert, recording who closed it. Already-resolved alerts
// are untouched.
func (r *AlertRepository) Resolve(ctx context.Context, id, resolvedBy string) error {
	query := `
		UPDATE security_alerts
		SET status = 'resolved', resolved_at = now(), resolved_by = $2, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, resolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ResolveStale auto-resolves active alerts not updated since the cutoff and
// returns how many were closed.
func (r *AlertRepository) ResolveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE security_alerts
		SET status = 'resolved', resolved_at = now(), resolved_by = 'auto', updated_at = now()
		WHERE status = 'active' AND updated_at < $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Active returns open alerts, newest first.
func (r *AlertRepository) Active(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM security_alerts
		WHERE status = 'active'
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountsByType returns alert volume per type since the cutoff.
func (r *AlertRepository) CountsByType(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT type, COUNT(*) FROM security_alerts
		WHERE created_at >= $1
		GROUP BY type
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var alertType string
		var count int64
		if err := rows.Scan(&alertType, &count); err != nil {
			return nil, err
		}
		counts[alertType] = count
	}
	return counts, rows.Err()
}

// ActiveCount returns the number of open alerts.
func (r *AlertRepository) ActiveCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_alerts WHERE status = 'active'`).Scan(&count)
	return count, err
}

// DeleteOld drops resolved alerts past the retention window.
func (r *AlertRepository) DeleteOld(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM security_alerts WHERE status = 'resolved' AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
