package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
)

// Rate limit scenarios. Each scenario has its own window and ceiling so
// hot paths and sensitive paths are throttled independently.
const (
	ScenarioLoginIP       = "login_ip"
	ScenarioPasswordReset = "password_reset"
	ScenarioAdminOps      = "admin_ops"
	ScenarioGlobalIP      = "global_ip"
)

// ScenarioLimit is one scenario's throttle configuration.
type ScenarioLimit struct {
	Max    int
	Window time.Duration
}

// RateLimitService applies per-scenario sliding-window limits on top of the
// shared counter store.
type RateLimitService struct {
	counters counter.Store
	limits   map[string]ScenarioLimit
	logger   *slog.Logger
}

// NewRateLimitService creates a RateLimitService. baseMax and baseWindow
// come from configuration and parameterize the built-in scenarios.
func NewRateLimitService(counters counter.Store, baseMax int, baseWindow time.Duration, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		counters: counters,
		limits: map[string]ScenarioLimit{
			ScenarioLoginIP:       {Max: baseMax, Window: baseWindow},
			ScenarioPasswordReset: {Max: baseMax / 10, Window: baseWindow * 10},
			ScenarioAdminOps:      {Max: baseMax / 2, Window: baseWindow},
			ScenarioGlobalIP:      {Max: baseMax * 5, Window: baseWindow},
		},
		logger: logger,
	}
}

func (s *RateLimitService) limitFor(scenario string) ScenarioLimit {
	if limit, ok := s.limits[scenario]; ok {
		if limit.Max < 1 {
			limit.Max = 1
		}
		return limit
	}
	// Unregistered scenarios get the global ceiling.
	return s.limits[ScenarioGlobalIP]
}

func scenarioKey(scenario, key string) string {
	return "rl:" + scenario + ":" + key
}

// Allow counts one request against a scenario limit. Returns the counter
// result and a RateLimitedError when the window is exhausted.
func (s *RateLimitService) Allow(ctx context.Context, scenario, key string) (counter.Result, error) {
	limit := s.limitFor(scenario)

	res, err := s.counters.Increment(ctx, scenarioKey(scenario, key), limit.Window, limit.Max)
	if err != nil {
		return counter.Result{}, err
	}

	if !res.Allowed {
		s.logger.Warn("rate limit exceeded",
			slog.String("scenario", scenario),
			slog.Int("count", res.Count),
			slog.Int("limit", limit.Max))
		return res, &models.RateLimitedError{
			Scenario:  scenario,
			Count:     res.Count,
			Limit:     limit.Max,
			ResetTime: res.ResetTime,
		}
	}

	return res, nil
}

// Count reads a scenario counter without incrementing it.
func (s *RateLimitService) Count(ctx context.Context, scenario, key string) (int, error) {
	res, err := s.counters.Get(ctx, scenarioKey(scenario, key))
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.Count, nil
}

// Reset clears one scenario counter, for administrative unblocks.
func (s *RateLimitService) Reset(ctx context.Context, scenario, key string) error {
	return s.counters.Reset(ctx, scenarioKey(scenario, key))
}

// Limit exposes a scenario's configured ceiling for reporting.
func (s *RateLimitService) Limit(scenario string) ScenarioLimit {
	return s.limitFor(scenario)
}
