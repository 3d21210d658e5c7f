package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalcott3/vigil/internal/counter"
)

// These tests exercise the shared-table counter against a real PostgreSQL
// instance. The atomicity guarantees the lockout and rate-limit layers rely
// on cannot be verified against the in-memory store alone.

func TestPostgresStore_Counters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	store := counter.NewPostgresStore(testDB.DB)

	t.Run("increment starts and advances a window", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		res, err := store.Increment(ctx, "login:failures:a@example.com", time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
		assert.True(t, res.Allowed)

		res, err = store.Increment(ctx, "login:failures:a@example.com", time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
	})

	t.Run("limit breach flips allowed", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		var res counter.Result
		var err error
		for i := 0; i < 3; i++ {
			res, err = store.Increment(ctx, "rate:ip:203.0.113.7", time.Minute, 2)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, res.Count)
		assert.False(t, res.Allowed)
	})

	t.Run("elapsed window restarts at one", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		_, err := store.Increment(ctx, "login:failures:b@example.com", 50*time.Millisecond, 5)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)

		res, err := store.Increment(ctx, "login:failures:b@example.com", time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count, "elapsed window must not carry the old count")
	})

	t.Run("get is read-only and nil when absent", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		res, err := store.Get(ctx, "login:failures:absent@example.com")
		require.NoError(t, err)
		assert.Nil(t, res)

		_, err = store.Increment(ctx, "login:failures:c@example.com", time.Minute, 5)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			res, err = store.Get(ctx, "login:failures:c@example.com")
			require.NoError(t, err)
		}
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Count, "reads must not advance the counter")
	})

	t.Run("concurrent increments are all counted", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Increment(ctx, "login:failures:race@example.com", time.Minute, 100); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		res, err := store.Get(ctx, "login:failures:race@example.com")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, workers, res.Count, "no increment may be lost to a race")
	})

	t.Run("reset and prefix reset", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("lockout:failures:user%d@example.com", i)
			_, err := store.Increment(ctx, key, time.Minute, 5)
			require.NoError(t, err)
		}
		_, err := store.Increment(ctx, "rate:ip:203.0.113.9", time.Minute, 5)
		require.NoError(t, err)

		require.NoError(t, store.Reset(ctx, "lockout:failures:user0@example.com"))
		res, err := store.Get(ctx, "lockout:failures:user0@example.com")
		require.NoError(t, err)
		assert.Nil(t, res)

		removed, err := store.ResetPrefix(ctx, "lockout:failures:")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		res, err = store.Get(ctx, "rate:ip:203.0.113.9")
		require.NoError(t, err)
		assert.NotNil(t, res, "prefix reset must not touch other scopes")
	})

	t.Run("prune removes only elapsed windows", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		_, err := store.Increment(ctx, "stale-key", 10*time.Millisecond, 5)
		require.NoError(t, err)
		_, err = store.Increment(ctx, "live-key", time.Hour, 5)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		removed, err := store.Prune(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		res, err := store.Get(ctx, "live-key")
		require.NoError(t, err)
		assert.NotNil(t, res)
	})
}
