package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/policy"
)

// lockoutKeyPrefix namespaces per-identity failure counters in the shared
// counter store.
const lockoutKeyPrefix = "lockout:"

// LockoutReason recorded on lockouts created by the failure threshold.
const LockoutReason = "excessive_failed_attempts"

// LockoutStore persists account lockout rows
type LockoutStore interface {
	Upsert(ctx context.Context, identity, reason string, lockedUntil time.Time) error
	GetActive(ctx context.Context, identity string) (*models.AccountLockout, error)
	Delete(ctx context.Context, identity string) error
}

// LockoutService tracks per-identity failure counts and converts threshold
// crossings into account lockouts. A successful login clears state
// unconditionally, even mid-lockout.
type LockoutService struct {
	counters   counter.Store
	lockouts   LockoutStore
	thresholds policy.Thresholds
	window     time.Duration
	duration   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(counters counter.Store, lockouts LockoutStore, thresholds policy.Thresholds, window, duration time.Duration, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		counters:   counters,
		lockouts:   lockouts,
		thresholds: thresholds,
		window:     window,
		duration:   duration,
		logger:     logger,
		now:        time.Now,
	}
}

// ActiveLockout returns the unexpired lockout for an identity, or nil.
func (s *LockoutService) ActiveLockout(ctx context.Context, identity string) (*models.AccountLockout, error) {
	lock, err := s.lockouts.GetActive(ctx, identity)
	if err != nil {
		return nil, &models.DependencyUnavailableError{Dependency: "lockout-store", Err: err}
	}
	if lock != nil && lock.Expired(s.now()) {
		return nil, nil
	}
	return lock, nil
}

// FailureCount reads the identity's current windowed failure count without
// incrementing it.
func (s *LockoutService) FailureCount(ctx context.Context, identity string) (int, error) {
	res, err := s.counters.Get(ctx, lockoutKeyPrefix+identity)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.Count, nil
}

// RegisterFailure counts one failed attempt. When the count reaches the
// lockout threshold the identity is locked for the configured duration.
// Returns the new count and whether a lockout was created.
func (s *LockoutService) RegisterFailure(ctx context.Context, identity string) (int, bool, error) {
	res, err := s.counters.Increment(ctx, lockoutKeyPrefix+identity, s.window, s.thresholds.Lockout)
	if err != nil {
		return 0, false, err
	}

	if res.Count < s.thresholds.Lockout {
		return res.Count, false, nil
	}

	lockedUntil := s.now().Add(s.duration)
	if err := s.lockouts.Upsert(ctx, identity, LockoutReason, lockedUntil); err != nil {
		return res.Count, false, &models.DependencyUnavailableError{Dependency: "lockout-store", Err: err}
	}

	s.logger.Warn("account locked",
		slog.Int("failure_count", res.Count),
		slog.Time("locked_until", lockedUntil))

	return res.Count, true, nil
}

// ClearFailures removes the identity's failure counter and any lockout row.
// Called on every successful authentication.
func (s *LockoutService) ClearFailures(ctx context.Context, identity string) error {
	if err := s.counters.Reset(ctx, lockoutKeyPrefix+identity); err != nil {
		return err
	}
	if err := s.lockouts.Delete(ctx, identity); err != nil {
		return &models.DependencyUnavailableError{Dependency: "lockout-store", Err: err}
	}
	return nil
}
