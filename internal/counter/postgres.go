package counter

import (
	"context"
	"time"

	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/models"
)

// PostgresStore implements Store on the shared rate_limit_records table.
// The increment is a single upsert statement so concurrent callers across
// processes serialize on the row, not in application code.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Increment bumps or restarts the window for key in one atomic statement.
func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration, limit int) (Result, error) {
	query := `
		INSERT INTO rate_limit_records (key, count, reset_time)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_records.reset_time <= now() THEN 1
				ELSE rate_limit_records.count + 1
			END,
			reset_time = CASE
				WHEN rate_limit_records.reset_time <= now() THEN $2
				ELSE rate_limit_records.reset_time
			END
		RETURNING count, reset_time
	`

	var res Result
	err := s.db.Pool.QueryRow(ctx, query, key, time.Now().Add(window)).Scan(&res.Count, &res.ResetTime)
	if err != nil {
		return Result{}, &models.DependencyUnavailableError{Dependency: "counter-store", Err: err}
	}

	res.Allowed = res.Count <= limit
	return res, nil
}

// Get reads the live counter for key, treating an elapsed window as absent.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Result, error) {
	query := `
		SELECT count, reset_time FROM rate_limit_records
		WHERE key = $1 AND reset_time > now()
	`

	var res Result
	err := s.db.Pool.QueryRow(ctx, query, key).Scan(&res.Count, &res.ResetTime)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped == models.ErrNotFound {
			return nil, nil
		}
		return nil, &models.DependencyUnavailableError{Dependency: "counter-store", Err: err}
	}

	return &res, nil
}

// Reset deletes the counter for key.
func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE key = $1`, key)
	if err != nil {
		return &models.DependencyUnavailableError{Dependency: "counter-store", Err: err}
	}
	return nil
}

// ResetPrefix deletes all counters under a key prefix.
func (s *PostgresStore) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, &models.DependencyUnavailableError{Dependency: "counter-store", Err: err}
	}
	return tag.RowsAffected(), nil
}

// Prune removes counters whose windows elapsed before the cutoff.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE reset_time <= $1`, cutoff)
	if err != nil {
		return 0, &models.DependencyUnavailableError{Dependency: "counter-store", Err: err}
	}
	return tag.RowsAffected(), nil
}
