package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrUserInactive     = errors.New("user is no longer active")

	// ErrStepUpRequired means the login is acceptable only with a verified
	// step-up code, either by policy or by the risk recommendation.
	ErrStepUpRequired = errors.New("step-up verification required")

	// ErrMaintenanceMode means non-administrative logins are suspended.
	ErrMaintenanceMode = errors.New("system is in maintenance mode")
)

// AccountLockedError indicates the identity is temporarily locked out.
type AccountLockedError struct {
	Identity   string
	CanRetryAt time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.CanRetryAt.UTC().Format(time.RFC3339))
}

// RetryAfter returns the remaining lockout duration, floored at zero.
func (e *AccountLockedError) RetryAfter() time.Duration {
	d := time.Until(e.CanRetryAt)
	if d < 0 {
		return 0
	}
	return d
}

// RateLimitedError indicates a rate-limit window has been exhausted.
type RateLimitedError struct {
	Scenario  string
	Count     int
	Limit     int
	ResetTime time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d/%d", e.Scenario, e.Count, e.Limit)
}

// RetryAfter returns time until the window resets, floored at zero.
func (e *RateLimitedError) RetryAfter() time.Duration {
	d := time.Until(e.ResetTime)
	if d < 0 {
		return 0
	}
	return d
}

// RiskBlockedError indicates the computed risk score exceeded the policy ceiling.
// Factors carries the contributing factor descriptions for support diagnosis;
// it never includes raw PII beyond what the caller already possesses.
type RiskBlockedError struct {
	Score     int
	Threshold int
	Factors   []string
}

func (e *RiskBlockedError) Error() string {
	return fmt.Sprintf("session blocked: risk score %d exceeds threshold %d", e.Score, e.Threshold)
}

// InsufficientTrustError indicates the device trust level is below what the
// session policy requires.
type InsufficientTrustError struct {
	Current  string
	Required string
}

func (e *InsufficientTrustError) Error() string {
	return fmt.Sprintf("device trust %q is below required level %q", e.Current, e.Required)
}

// DependencyUnavailableError wraps a counter-store or database failure.
// The security engine catches this kind at the lowest layer and converts it
// to a fail-open allow; it must never surface as a 5xx from inside the engine.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is (or wraps) a rate-limit rejection.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitedError
	return errors.As(err, &rlErr)
}

// IsDependencyUnavailable reports whether err is (or wraps) a dependency outage.
func IsDependencyUnavailable(err error) bool {
	var depErr *DependencyUnavailableError
	return errors.As(err, &depErr)
}
