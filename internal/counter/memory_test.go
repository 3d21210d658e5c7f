package counter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncrement_NewWindow(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()

	res, err := store.Increment(ctx, "lockout:student@example.com", time.Minute, 5)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.Allowed)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ResetTime, 2*time.Second)
}

func TestMemoryStoreIncrement_ExceedsLimit(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()

	var res counter.Result
	var err error
	for i := 0; i < 6; i++ {
		res, err = store.Increment(ctx, "rl:login_ip:10.0.0.1", time.Minute, 5)
		require.NoError(t, err)
	}

	assert.Equal(t, 6, res.Count)
	assert.False(t, res.Allowed)
}

func TestMemoryStoreIncrement_ConcurrentNoLostUpdates(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, "lockout:shared@example.com", time.Minute, 100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := store.Get(ctx, "lockout:shared@example.com")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, workers, res.Count)
}

func TestMemoryStoreGet_MissingKey(t *testing.T) {
	store := counter.NewMemoryStore()

	res, err := store.Get(context.Background(), "lockout:nobody@example.com")

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMemoryStoreIncrement_WindowRollover(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx, "rl:reset:k", time.Millisecond, 5)
		require.NoError(t, err)
	}

	time.Sleep(5 * time.Millisecond)

	res, err := store.Increment(ctx, "rl:reset:k", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count, "elapsed window must restart the count")
}

func TestMemoryStoreResetPrefix(t *testing.T) {
	store := counter.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Increment(ctx, "lockout:a@example.com", time.Minute, 5)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "lockout:b@example.com", time.Minute, 5)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "rl:login_ip:10.0.0.1", time.Minute, 5)
	require.NoError(t, err)

	removed, err := store.ResetPrefix(ctx, "lockout:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	res, err := store.Get(ctx, "rl:login_ip:10.0.0.1")
	require.NoError(t, err)
	assert.NotNil(t, res, "other prefixes must survive")
}
