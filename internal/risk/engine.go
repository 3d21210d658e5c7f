// Package risk scores authentication attempts and in-session operations
// across device, location, behavior, time-of-day, and threat-intelligence
// signals. Scoring is deterministic for a given history snapshot; the engine
// is heuristic and tunable, not a fraud oracle.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/mwalcott3/vigil/internal/models"
)

// automationPattern matches user agents of common automation tooling.
var automationPattern = regexp.MustCompile(`(?i)curl|wget|python|bot|crawler|spider`)

// History is the read-only view of identity history the assessors consult.
type History interface {
	RecentSessions(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	SessionCountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DistinctIPsSince(ctx context.Context, userID string, since time.Time) ([]string, error)
	Device(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	DeviceCount(ctx context.Context, userID string) (int, error)
	LoginHourHistogram(ctx context.Context, userID string, since time.Time) (map[int]int, error)
	OperationCountSince(ctx context.Context, userID, operation string, since time.Time) (int, error)
}

// Intel answers whether a source IP is known-malicious.
type Intel interface {
	IsMalicious(ctx context.Context, ip string) (bool, string, error)
}

// Weights are the per-factor score contributions. ImpossibleTravel is the
// maximum single-factor weight.
type Weights struct {
	UnknownDevice      int
	FirstDevice        int
	AutomationAgent    int
	NewCity            int
	NewCountry         int
	ImpossibleTravel   int
	HighLoginFrequency int
	MultiIPFanout      int
	UnusualHourCap     int
	MaliciousIP        int
	OperationBurst     int
}

// DefaultWeights returns the tuned factor weights.
func DefaultWeights() Weights {
	return Weights{
		UnknownDevice:      20,
		FirstDevice:        15,
		AutomationAgent:    25,
		NewCity:            10,
		NewCountry:         20,
		ImpossibleTravel:   40,
		HighLoginFrequency: 15,
		MultiIPFanout:      20,
		UnusualHourCap:     15,
		MaliciousIP:        30,
		OperationBurst:     15,
	}
}

// Behavioral and temporal tuning knobs.
const (
	loginFrequencyWindow    = 24 * time.Hour
	loginFrequencyThreshold = 10
	fanoutWindow            = 1 * time.Hour
	fanoutIPThreshold       = 3
	travelLookback          = 2 * time.Hour
	typicalHourLookback     = 30 * 24 * time.Hour
	typicalHourShare        = 0.10
	operationBurstWindow    = 5 * time.Minute
	operationBurstThreshold = 20
	historyDepth            = 50
)

// Context carries the request-scoped inputs for one assessment.
type Context struct {
	UserID            string
	Identity          string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *Location
	Operation         string
}

// Engine computes risk assessments.
type Engine struct {
	history History
	intel   Intel
	weights Weights
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default factor weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a risk engine.
func NewEngine(history History, intel Intel, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		history: history,
		intel:   intel,
		weights: DefaultWeights(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess scores a login or session-creation attempt. The five sub-assessments
// run independently; their scores are summed and clamped to [0,100]. A
// history lookup failure skips that factor rather than failing the whole
// assessment.
func (e *Engine) Assess(ctx context.Context, rc Context) (*models.RiskAssessment, error) {
	var factors []models.RiskFactor
	total := 0

	for _, assess := range []func(context.Context, Context) (int, []models.RiskFactor){
		e.assessDevice,
		e.assessLocation,
		e.assessBehavior,
		e.assessTime,
		e.assessThreatIntel,
	} {
		score, fs := assess(ctx, rc)
		total += score
		factors = append(factors, fs...)
	}

	score := models.ClampScore(total)
	return &models.RiskAssessment{
		ID:             uuid.New().String(),
		UserID:         rc.UserID,
		Identity:       rc.Identity,
		Score:          score,
		Level:          models.RiskLevelFor(score),
		Recommendation: models.RecommendationFor(score),
		Factors:        factors,
		AssessedAt:     e.now(),
	}, nil
}

// AssessOperation re-scores an already-scored session mid-request by adding
// incremental factors to its existing score. It escalates trust pressure,
// never lowers it below the session's standing score.
func (e *Engine) AssessOperation(ctx context.Context, sess *models.Session, rc Context) (*models.RiskAssessment, error) {
	total := sess.RiskScore
	var factors []models.RiskFactor

	ips, err := e.history.DistinctIPsSince(ctx, sess.UserID, e.now().Add(-fanoutWindow))
	if err != nil {
		e.logger.Warn("operation risk: ip fan-out lookup failed", slog.Any("error", err))
	} else if len(ips) > fanoutIPThreshold {
		total += e.weights.MultiIPFanout
		factors = append(factors, models.RiskFactor{
			Category:    "behavior",
			Description: fmt.Sprintf("operations from %d distinct IPs within %s", len(ips), fanoutWindow),
			Score:       e.weights.MultiIPFanout,
			Severity:    models.SeverityWarning,
		})
	}

	if rc.Operation != "" {
		count, err := e.history.OperationCountSince(ctx, sess.UserID, rc.Operation, e.now().Add(-operationBurstWindow))
		if err != nil {
			e.logger.Warn("operation risk: frequency lookup failed", slog.Any("error", err))
		} else if count > operationBurstThreshold {
			total += e.weights.OperationBurst
			factors = append(factors, models.RiskFactor{
				Category:    "behavior",
				Description: fmt.Sprintf("operation %q repeated %d times within %s", rc.Operation, count, operationBurstWindow),
				Score:       e.weights.OperationBurst,
				Severity:    models.SeverityWarning,
			})
		}
	}

	score := models.ClampScore(total)
	return &models.RiskAssessment{
		ID:             uuid.New().String(),
		UserID:         sess.UserID,
		Identity:       sess.Identity,
		Score:          score,
		Level:          models.RiskLevelFor(score),
		Recommendation: models.RecommendationFor(score),
		Factors:        factors,
		AssessedAt:     e.now(),
	}, nil
}

func (e *Engine) assessDevice(ctx context.Context, rc Context) (int, []models.RiskFactor) {
	var factors []models.RiskFactor
	score := 0

	if rc.DeviceFingerprint != "" {
		device, err := e.history.Device(ctx, rc.UserID, rc.DeviceFingerprint)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("risk: device lookup failed", slog.Any("error", err))
		} else if device == nil {
			score += e.weights.UnknownDevice
			factors = append(factors, models.RiskFactor{
				Category:    "device",
				Description: "device fingerprint not previously seen for this account",
				Score:       e.weights.UnknownDevice,
				Severity:    models.SeverityWarning,
			})

			count, err := e.history.DeviceCount(ctx, rc.UserID)
			if err != nil {
				e.logger.Warn("risk: device count failed", slog.Any("error", err))
			} else if count == 0 {
				score += e.weights.FirstDevice
				factors = append(factors, models.RiskFactor{
					Category:    "device",
					Description: "first device ever recorded for this account",
					Score:       e.weights.FirstDevice,
					Severity:    models.SeverityInfo,
				})
			}
		}
	}

	if rc.UserAgent != "" && automationPattern.MatchString(rc.UserAgent) {
		score += e.weights.AutomationAgent
		factors = append(factors, models.RiskFactor{
			Category:    "device",
			Description: "user agent matches known automation signature",
			Score:       e.weights.AutomationAgent,
			Severity:    models.SeverityWarning,
		})
	}

	return score, factors
}

func (e *Engine) assessLocation(ctx context.Context, rc Context) (int, []models.RiskFactor) {
	if rc.Location == nil || rc.Location.Country == "" {
		return 0, nil
	}

	sessions, err := e.history.RecentSessions(ctx, rc.UserID, historyDepth)
	if err != nil {
		e.logger.Warn("risk: session history lookup failed", slog.Any("error", err))
		return 0, nil
	}

	var factors []models.RiskFactor
	score := 0

	countrySeen, citySeen := false, false
	for _, s := range sessions {
		if s.Country == rc.Location.Country {
			countrySeen = true
			if s.City == rc.Location.City {
				citySeen = true
			}
		}
	}

	if len(sessions) > 0 {
		switch {
		case !countrySeen:
			score += e.weights.NewCountry
			factors = append(factors, models.RiskFactor{
				Category:    "location",
				Description: fmt.Sprintf("no prior session from country %s", rc.Location.Country),
				Score:       e.weights.NewCountry,
				Severity:    models.SeverityWarning,
			})
		case !citySeen:
			score += e.weights.NewCity
			factors = append(factors, models.RiskFactor{
				Category:    "location",
				Description: fmt.Sprintf("no prior session from city %s", rc.Location.City),
				Score:       e.weights.NewCity,
				Severity:    models.SeverityInfo,
			})
		}
	}

	if rc.Location.known() {
		now := e.now()
		for _, s := range sessions {
			if now.Sub(s.CreatedAt) > travelLookback {
				continue
			}
			if s.Latitude == 0 && s.Longitude == 0 {
				continue
			}

			dist := haversineKm(s.Latitude, s.Longitude, rc.Location.Latitude, rc.Location.Longitude)
			speed := impliedSpeedKmh(dist, now.Sub(s.CreatedAt))
			if speed > maxFeasibleSpeedKmh {
				score += e.weights.ImpossibleTravel
				factors = append(factors, models.RiskFactor{
					Category: "location",
					Description: fmt.Sprintf("impossible travel: %.0f km from previous session implies %.0f km/h",
						dist, speed),
					Score:    e.weights.ImpossibleTravel,
					Severity: models.SeverityCritical,
				})
				break
			}
		}
	}

	return score, factors
}

func (e *Engine) assessBehavior(ctx context.Context, rc Context) (int, []models.RiskFactor) {
	var factors []models.RiskFactor
	score := 0
	now := e.now()

	count, err := e.history.SessionCountSince(ctx, rc.UserID, now.Add(-loginFrequencyWindow))
	if err != nil {
		e.logger.Warn("risk: login frequency lookup failed", slog.Any("error", err))
	} else if count > loginFrequencyThreshold {
		score += e.weights.HighLoginFrequency
		factors = append(factors, models.RiskFactor{
			Category:    "behavior",
			Description: fmt.Sprintf("%d logins within the last 24h exceeds the usual ceiling", count),
			Score:       e.weights.HighLoginFrequency,
			Severity:    models.SeverityWarning,
		})
	}

	ips, err := e.history.DistinctIPsSince(ctx, rc.UserID, now.Add(-fanoutWindow))
	if err != nil {
		e.logger.Warn("risk: ip fan-out lookup failed", slog.Any("error", err))
	} else if len(ips) > fanoutIPThreshold {
		score += e.weights.MultiIPFanout
		factors = append(factors, models.RiskFactor{
			Category:    "behavior",
			Description: fmt.Sprintf("activity from %d distinct IPs within %s", len(ips), fanoutWindow),
			Score:       e.weights.MultiIPFanout,
			Severity:    models.SeverityWarning,
		})
	}

	return score, factors
}

func (e *Engine) assessTime(ctx context.Context, rc Context) (int, []models.RiskFactor) {
	now := e.now()

	histogram, err := e.history.LoginHourHistogram(ctx, rc.UserID, now.Add(-typicalHourLookback))
	if err != nil {
		e.logger.Warn("risk: login hour lookup failed", slog.Any("error", err))
		return 0, nil
	}

	total := 0
	for _, c := range histogram {
		total += c
	}
	if total == 0 {
		return 0, nil
	}

	// Typical hours account for at least 10% of the trailing sample.
	var typical []int
	for hour, c := range histogram {
		if float64(c) >= typicalHourShare*float64(total) {
			typical = append(typical, hour)
		}
	}
	if len(typical) == 0 {
		return 0, nil
	}

	hour := now.Hour()
	nearest := 24
	for _, t := range typical {
		if d := circularHourDistance(hour, t); d < nearest {
			nearest = d
		}
	}
	if nearest == 0 {
		return 0, nil
	}

	score := nearest * 3
	if score > e.weights.UnusualHourCap {
		score = e.weights.UnusualHourCap
	}

	return score, []models.RiskFactor{{
		Category:    "time",
		Description: fmt.Sprintf("login at hour %02d is %d hours from this account's typical window", hour, nearest),
		Score:       score,
		Severity:    models.SeverityInfo,
	}}
}

func (e *Engine) assessThreatIntel(ctx context.Context, rc Context) (int, []models.RiskFactor) {
	if rc.IPAddress == "" || e.intel == nil {
		return 0, nil
	}

	malicious, source, err := e.intel.IsMalicious(ctx, rc.IPAddress)
	if err != nil {
		e.logger.Warn("risk: threat intel lookup failed", slog.Any("error", err))
		return 0, nil
	}
	if !malicious {
		return 0, nil
	}

	return e.weights.MaliciousIP, []models.RiskFactor{{
		Category:    "threat_intel",
		Description: fmt.Sprintf("source IP flagged by %s", source),
		Score:       e.weights.MaliciousIP,
		Severity:    models.SeverityCritical,
	}}
}
