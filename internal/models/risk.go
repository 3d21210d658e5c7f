package models

import "time"

// Risk levels derived from the overall score.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Recommendations mapped from the overall score.
const (
	RecommendBlock   = "block"
	RecommendStepUp  = "require_step_up"
	RecommendNotify  = "notify"
	RecommendMonitor = "allow_with_monitoring"
)

// Factor severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// RiskFactor is one contributing signal in an assessment.
type RiskFactor struct {
	Category    string `json:"category"` // device, location, behavior, time, threat_intel
	Description string `json:"description"`
	Score       int    `json:"score"`
	Severity    string `json:"severity"`
}

// RiskAssessment is a point-in-time score breakdown. Rows are immutable.
type RiskAssessment struct {
	ID             string
	UserID         string
	Identity       string
	Score          int // clamped to [0,100]
	Level          string
	Recommendation string
	Factors        []RiskFactor
	AssessedAt     time.Time
}

// RiskLevelFor maps an overall score to its level band.
func RiskLevelFor(score int) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RecommendationFor maps an overall score to the recommended action.
func RecommendationFor(score int) string {
	switch {
	case score >= 80:
		return RecommendBlock
	case score >= 60:
		return RecommendStepUp
	case score >= 30:
		return RecommendNotify
	default:
		return RecommendMonitor
	}
}

// ClampScore bounds a raw score sum to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
