package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Alert types raised by policy violations and threat detection.
const (
	AlertBruteForce         = "brute_force"
	AlertSuspiciousLocation = "suspicious_location"
	AlertHighRiskSession    = "high_risk_session"
	AlertPolicyViolation    = "policy_violation"
	AlertImpossibleTravel   = "impossible_travel"
)

// Alert severities.
const (
	AlertSeverityLow      = "low"
	AlertSeverityMedium   = "medium"
	AlertSeverityHigh     = "high"
	AlertSeverityCritical = "critical"
)

// Alert statuses. Transitions active -> resolved only.
const (
	AlertActive   = "active"
	AlertResolved = "resolved"
)

// AlertEvidence holds structured context attached to an alert.
type AlertEvidence map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (e *AlertEvidence) Scan(value interface{}) error {
	if value == nil {
		*e = make(AlertEvidence)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*e = AlertEvidence(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (e AlertEvidence) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

// SecurityAlert is a flagged security event requiring attention.
type SecurityAlert struct {
	ID          string
	Type        string
	Severity    string
	Status      string
	Description string
	Identity    *string
	RiskScore   int
	Evidence    AlertEvidence
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	ResolvedBy  *string // "manual" or "auto"
}

// Event kinds recorded in the security event log.
const (
	EventAttemptFailed     = "attempt_failed"
	EventAttemptSucceeded  = "attempt_succeeded"
	EventLockoutCreated    = "lockout_created"
	EventDecisionDenied    = "decision_denied"
	EventSessionCreated    = "session_created"
	EventSessionTerminated = "session_terminated"
	EventAdminUnlock       = "admin_unlock"
	EventMitigationRun     = "mitigation_run"
)

// SecurityEvent is one row in the bounded-TTL event log the monitoring
// aggregators scan. Rows expire with the retention window and are pruned
// by the mitigation scheduler.
type SecurityEvent struct {
	ID        string
	Kind      string // e.g., "attempt_failed", "attempt_succeeded", "lockout_created"
	Identity  string
	IPAddress string
	Metadata  AlertEvidence
	CreatedAt time.Time
	ExpiresAt time.Time
}
