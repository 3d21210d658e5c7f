package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// AssessmentRepository handles database operations for risk assessments
type AssessmentRepository struct {
	db *database.DB
}

// NewAssessmentRepository creates a new AssessmentRepository
func NewAssessmentRepository(db *database.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// Create persists an assessment. Rows are immutable audit records.
func (r *AssessmentRepository) Create(ctx context.Context, a *models.RiskAssessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return err
	}

	// IP-only assessments carry no user; the column is nullable.
	var userID *string
	if a.UserID != "" {
		userID = &a.UserID
	}

	query := `
		INSERT INTO risk_assessments (user_id, identity, score, level, recommendation, factors, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Pool.Exec(ctx, query, userID, a.Identity, a.Score, a.Level, a.Recommendation, factors, a.AssessedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// RecentByUser returns a user's latest assessments, newest first.
func (r *AssessmentRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error) {
	query := `
		SELECT id, COALESCE(user_id::text, ''), identity, score, level, recommendation, factors, assessed_at
		FROM risk_assessments
		WHERE user_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*models.RiskAssessment
	for rows.Next() {
		var a models.RiskAssessment
		var factors []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Identity, &a.Score, &a.Level, &a.Recommendation, &factors, &a.AssessedAt); err != nil {
			return nil, err
		}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &a.Factors); err != nil {
				return nil, err
			}
		}
		assessments = append(assessments, &a)
	}
	return assessments, rows.Err()
}

// AverageScoreSince returns the mean assessed score within the window. Zero
// when no assessments exist.
func (r *AssessmentRepository) AverageScoreSince(ctx context.Context, since time.Time) (float64, error) {
	var avg float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(score), 0) FROM risk_assessments WHERE assessed_at >= $1`, since).Scan(&avg)
	return avg, err
}
