package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
)

func TestRateLimitService_Allow_UnderLimit(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 100, time.Minute, slog.Default())

	for i := 1; i <= 100; i++ {
		res, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
		require.NoError(t, err)
		assert.Equal(t, i, res.Count)
		assert.True(t, res.Allowed)
	}
}

func TestRateLimitService_Allow_OverLimit(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 100, time.Minute, slog.Default())

	for i := 0; i < 100; i++ {
		_, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
		require.NoError(t, err)
	}

	res, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
	require.Error(t, err)
	assert.True(t, models.IsRateLimited(err))
	assert.Equal(t, 101, res.Count)
	assert.False(t, res.Allowed)

	var rlErr *models.RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, ScenarioLoginIP, rlErr.Scenario)
	assert.Equal(t, 100, rlErr.Limit)
}

func TestRateLimitService_KeysAreScenarioScoped(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 10, time.Minute, slog.Default())

	_, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
	require.NoError(t, err)

	count, err := svc.Count(context.Background(), ScenarioAdminOps, "203.0.113.10")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRateLimitService_Count_DoesNotIncrement(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 10, time.Minute, slog.Default())

	_, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		count, err := svc.Count(context.Background(), ScenarioLoginIP, "203.0.113.10")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestRateLimitService_Reset(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 10, time.Minute, slog.Default())

	for i := 0; i < 5; i++ {
		_, err := svc.Allow(context.Background(), ScenarioLoginIP, "203.0.113.10")
		require.NoError(t, err)
	}

	require.NoError(t, svc.Reset(context.Background(), ScenarioLoginIP, "203.0.113.10"))

	count, err := svc.Count(context.Background(), ScenarioLoginIP, "203.0.113.10")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRateLimitService_DerivedScenarioLimits(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 100, time.Minute, slog.Default())

	assert.Equal(t, 100, svc.Limit(ScenarioLoginIP).Max)
	assert.Equal(t, 10, svc.Limit(ScenarioPasswordReset).Max)
	assert.Equal(t, 10*time.Minute, svc.Limit(ScenarioPasswordReset).Window)
	assert.Equal(t, 50, svc.Limit(ScenarioAdminOps).Max)
	assert.Equal(t, 500, svc.Limit(ScenarioGlobalIP).Max)
}

func TestRateLimitService_UnknownScenarioFallsBackToGlobal(t *testing.T) {
	svc := NewRateLimitService(counter.NewMemoryStore(), 100, time.Minute, slog.Default())

	assert.Equal(t, svc.Limit(ScenarioGlobalIP), svc.Limit("no_such_scenario"))
}
