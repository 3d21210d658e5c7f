package models

import "time"

// Failure reasons recorded on login attempts
const (
	FailureInvalidCredentials = "invalid_credentials"
	FailureAccountLocked      = "account_locked"
	FailureRateLimited        = "rate_limited"
	FailureRiskBlocked        = "risk_blocked"
	FailureAccountState       = "account_state"
	FailureInsufficientTrust  = "insufficient_trust"
	FailureStepUpRequired     = "step_up_required"
)

// LoginAttempt represents one authentication try. Rows are append-only and
// read back for windowed failure counts and behavioral risk signals.
type LoginAttempt struct {
	ID                string
	Identity          string // login identifier (email)
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Success           bool
	FailureReason     *string
	RiskScore         int
	AttemptTime       time.Time
	ExpiresAt         time.Time
}

// AccountLockout is an active lock on an identity. At most one row per
// identity; it auto-expires by timestamp comparison and is deleted outright
// on a successful login or an admin unlock.
type AccountLockout struct {
	ID          string
	Identity    string
	Reason      string
	LockedAt    time.Time
	LockedUntil time.Time
}

// Expired reports whether the lock has run out.
func (l *AccountLockout) Expired(now time.Time) bool {
	return !now.Before(l.LockedUntil)
}
