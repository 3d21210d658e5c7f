package models

import "time"

// Session statuses. Transitions are forward-only: active -> terminated.
const (
	SessionActive     = "active"
	SessionTerminated = "terminated"
)

// Termination reasons recorded when a session leaves the active state.
const (
	TerminationLogout          = "logout"
	TerminationExpired         = "expired"
	TerminationUserInactive    = "user_inactive"
	TerminationNewLoginDevice  = "new_login_same_device"
	TerminationLimitExceeded   = "session_limit_exceeded"
	TerminationHighRisk        = "auto_terminated_high_risk"
	TerminationAdminAction     = "admin_action"
	TerminationPolicyViolation = "policy_violation"
)

// Session is an authenticated session. Status only moves forward; a
// terminated session is never reactivated.
type Session struct {
	ID                string
	UserID            string
	Identity          string
	DeviceFingerprint string
	DeviceTrust       TrustLevel
	IPAddress         string
	UserAgent         string
	Country           string
	City              string
	Latitude          float64
	Longitude         float64
	RiskScore         int
	RiskLevel         string
	Status            string
	TerminationReason *string
	PolicyRole        string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionPolicy holds per-role session rules. Created once per role with
// role-specific defaults and immutable thereafter.
type SessionPolicy struct {
	ID                    string
	Role                  string
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	RequiredTrustLevel    TrustLevel
	RiskThreshold         int
	RequireMFA            bool
	ForceUniqueSession    bool
	CreatedAt             time.Time
}

// DefaultSessionPolicy returns the built-in policy for a role. Unrecognized
// roles fall back to the student policy, the most permissive tier.
func DefaultSessionPolicy(role string) *SessionPolicy {
	switch role {
	case "admin":
		return &SessionPolicy{
			Role:                  "admin",
			MaxConcurrentSessions: 2,
			SessionTimeout:        8 * time.Hour,
			RequiredTrustLevel:    TrustKnown,
			RiskThreshold:         60,
			RequireMFA:            true,
			ForceUniqueSession:    false,
		}
	case "instructor":
		return &SessionPolicy{
			Role:                  "instructor",
			MaxConcurrentSessions: 3,
			SessionTimeout:        12 * time.Hour,
			RequiredTrustLevel:    TrustUnknown,
			RiskThreshold:         70,
			RequireMFA:            false,
			ForceUniqueSession:    false,
		}
	default:
		return &SessionPolicy{
			Role:                  role,
			MaxConcurrentSessions: 5,
			SessionTimeout:        24 * time.Hour,
			RequiredTrustLevel:    TrustUnknown,
			RiskThreshold:         80,
			RequireMFA:            false,
			ForceUniqueSession:    false,
		}
	}
}
