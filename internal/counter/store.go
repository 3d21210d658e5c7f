// Package counter provides the sliding-window attempt counter shared by the
// lockout and rate-limit layers. Increments are linearizable per key: two
// concurrent callers for the same key are both counted, never lost to a
// read-modify-write race.
package counter

import (
	"context"
	"time"
)

// Result is the outcome of a counter operation.
type Result struct {
	Count     int
	ResetTime time.Time
	Allowed   bool
}

// Store is the counter contract. Implementations must make Increment atomic
// against concurrent callers for the same key.
type Store interface {
	// Increment bumps the counter for key. If no record exists or the window
	// has elapsed, a new window starts with count=1; otherwise the existing
	// count is atomically incremented. Allowed is count <= limit.
	Increment(ctx context.Context, key string, window time.Duration, limit int) (Result, error)

	// Get reads the current counter without incrementing. Returns nil when no
	// record exists or the window has already elapsed.
	Get(ctx context.Context, key string) (*Result, error)

	// Reset deletes the counter for key.
	Reset(ctx context.Context, key string) error

	// ResetPrefix deletes every counter whose key starts with prefix and
	// returns how many were removed. Used by administrative unlock operations.
	ResetPrefix(ctx context.Context, prefix string) (int64, error)

	// Prune removes counters whose windows elapsed before the cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
