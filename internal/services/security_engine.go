package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/policy"
	"github.com/mwalcott3/vigil/internal/risk"
)

// Failed attempt rows are kept long enough to feed the 30-day behavioral
// history the risk engine consumes.
const attemptRetention = 30 * 24 * time.Hour

// AttemptRecorder persists login attempt rows
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// SecurityEngine coordinates the enforcement layers into one verdict per
// request. Layers are consulted in fixed priority order and the first layer
// whose condition fires wins. A dependency outage never denies access: the
// engine degrades to an allow tagged with the error-fallback layer so the
// outage is visible in the audit trail.
type SecurityEngine struct {
	lockouts        *LockoutService
	rates           *RateLimitService
	attempts        AttemptRecorder
	intel           risk.Intel
	audit           *AuditService
	thresholds      policy.Thresholds
	lockoutDuration time.Duration
	decisionTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewSecurityEngine creates a new SecurityEngine
func NewSecurityEngine(
	lockouts *LockoutService,
	rates *RateLimitService,
	attempts AttemptRecorder,
	intel risk.Intel,
	audit *AuditService,
	thresholds policy.Thresholds,
	lockoutDuration time.Duration,
	decisionTimeout time.Duration,
	logger *slog.Logger,
) *SecurityEngine {
	return &SecurityEngine{
		lockouts:        lockouts,
		rates:           rates,
		attempts:        attempts,
		intel:           intel,
		audit:           audit,
		thresholds:      thresholds,
		lockoutDuration: lockoutDuration,
		decisionTimeout: decisionTimeout,
		logger:          logger,
		now:             time.Now,
	}
}

// Evaluate renders the security verdict for a request before credentials
// are checked. Evaluation is read-only: it never increments a counter, so
// probing the endpoint does not inflate anyone's failure count.
//
// With an identity present the account-scoped layers govern; for anonymous
// or IP-only requests only the rate-limit and ip-block layers apply.
func (e *SecurityEngine) Evaluate(ctx context.Context, identity, ip string) policy.Decision {
	ctx, cancel := context.WithTimeout(ctx, e.decisionTimeout)
	defer cancel()

	decision, err := e.evaluate(ctx, identity, ip)
	if err != nil {
		if models.IsDependencyUnavailable(err) {
			e.logger.Error("security dependency unavailable, failing open",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		} else {
			e.logger.Error("security evaluation failed, failing open",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
		return policy.Decision{
			Action:  policy.ActionAllow,
			Layer:   policy.LayerErrorFallback,
			Monitor: true,
		}
	}

	if !decision.Allowed() {
		e.audit.RecordEvent(ctx, models.EventDecisionDenied, identity, ip, models.AlertEvidence{
			"layer":  string(decision.Layer),
			"action": string(decision.Action),
			"count":  decision.EffectiveCount,
		})
	}

	return decision
}

func (e *SecurityEngine) evaluate(ctx context.Context, identity, ip string) (policy.Decision, error) {
	now := e.now()

	accountCount := 0
	if identity != "" {
		lock, err := e.lockouts.ActiveLockout(ctx, identity)
		if err != nil {
			return policy.Decision{}, err
		}
		if lock != nil {
			return policy.Decision{
				Action:     policy.ActionLockout,
				Layer:      policy.LayerAccountLockout,
				RetryAfter: lock.LockedUntil.Sub(now),
			}, nil
		}

		accountCount, err = e.lockouts.FailureCount(ctx, identity)
		if err != nil {
			return policy.Decision{}, err
		}
	}

	ipCount, err := e.rates.Count(ctx, ScenarioLoginIP, ip)
	if err != nil {
		return policy.Decision{}, err
	}

	// The effective count is the worst of the account and source-IP views,
	// so rotating identities from one IP or rotating IPs against one
	// account both keep escalating.
	effective := accountCount
	if ipCount > effective {
		effective = ipCount
	}

	for _, layer := range policy.LayerPriority() {
		switch layer {
		case policy.LayerAccountLockout:
			if identity != "" && effective >= e.thresholds.Lockout {
				return policy.Decision{
					Action:         policy.ActionLockout,
					Layer:          policy.LayerAccountLockout,
					EffectiveCount: effective,
					RetryAfter:     e.lockoutDuration,
				}, nil
			}

		case policy.LayerBruteForce:
			// The delay layer trips at the critical threshold; the
			// [warning, critical) band falls through to monitored allow.
			if identity != "" && effective >= e.thresholds.Critical {
				if delay := e.thresholds.ProgressiveDelay(effective); delay > 0 {
					return policy.Decision{
						Action:         policy.ActionDelay,
						Layer:          policy.LayerBruteForce,
						EffectiveCount: effective,
						Delay:          delay,
					}, nil
				}
			}

		case policy.LayerRateLimit:
			if effective >= e.thresholds.RateLimit {
				retryAfter := e.rates.Limit(ScenarioLoginIP).Window
				return policy.Decision{
					Action:         policy.ActionRateLimit,
					Layer:          policy.LayerRateLimit,
					EffectiveCount: effective,
					RetryAfter:     retryAfter,
				}, nil
			}

		case policy.LayerIPBlock:
			malicious, source, intelErr := e.intel.IsMalicious(ctx, ip)
			if intelErr != nil {
				// Intel is advisory; an intel outage degrades to no block.
				e.logger.Warn("threat intel lookup failed", slog.Any("error", intelErr))
				continue
			}
			if malicious {
				e.logger.Warn("blocked request from flagged ip",
					slog.String("ip_address", ip),
					slog.String("source", source))
				return policy.Decision{
					Action:         policy.ActionBlock,
					Layer:          policy.LayerIPBlock,
					EffectiveCount: effective,
				}, nil
			}
		}
	}

	return policy.Decision{
		Action:         policy.ActionAllow,
		Layer:          policy.LayerMonitoring,
		EffectiveCount: effective,
		Monitor:        effective >= e.thresholds.Warning,
	}, nil
}

// AttemptInput captures one authentication attempt for recording.
type AttemptInput struct {
	Identity          string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	FailureReason     string
	RiskScore         int
}

// RecordFailedAttempt updates every layer's state after a failed login: the
// attempt row, the identity failure counter, and the source-IP counter are
// written concurrently. Recording is best effort; a partial write degrades
// detection but never turns a failed login into an error response.
// Returns whether the failure tripped a new lockout.
func (e *SecurityEngine) RecordFailedAttempt(ctx context.Context, in AttemptInput) bool {
	now := e.now()
	reason := in.FailureReason

	var wg sync.WaitGroup
	var locked bool

	wg.Add(3)

	go func() {
		defer wg.Done()
		err := e.attempts.RecordAttempt(ctx, &models.LoginAttempt{
			Identity:          in.Identity,
			IPAddress:         in.IPAddress,
			UserAgent:         in.UserAgent,
			DeviceFingerprint: in.DeviceFingerprint,
			Success:           false,
			FailureReason:     &reason,
			RiskScore:         in.RiskScore,
			AttemptTime:       now,
			ExpiresAt:         now.Add(attemptRetention),
		})
		if err != nil {
			e.logger.Error("failed to record login attempt", slog.Any("error", err))
		}
	}()

	go func() {
		defer wg.Done()
		if in.Identity == "" {
			return
		}
		_, created, err := e.lockouts.RegisterFailure(ctx, in.Identity)
		if err != nil {
			e.logger.Error("failed to register identity failure", slog.Any("error", err))
			return
		}
		locked = created
	}()

	go func() {
		defer wg.Done()
		if _, err := e.rates.Allow(ctx, ScenarioLoginIP, in.IPAddress); err != nil {
			if !models.IsRateLimited(err) {
				e.logger.Error("failed to count ip failure", slog.Any("error", err))
			}
		}
	}()

	wg.Wait()

	e.audit.RecordEvent(ctx, models.EventAttemptFailed, in.Identity, in.IPAddress, models.AlertEvidence{
		"reason":     in.FailureReason,
		"risk_score": in.RiskScore,
	})

	if locked {
		e.audit.RecordEvent(ctx, models.EventLockoutCreated, in.Identity, in.IPAddress, models.AlertEvidence{
			"reason": LockoutReason,
		})
	}

	return locked
}

// RecordSuccessfulAttempt records the attempt row and clears the identity's
// failure state unconditionally, including any active lockout.
func (e *SecurityEngine) RecordSuccessfulAttempt(ctx context.Context, in AttemptInput) {
	now := e.now()

	err := e.attempts.RecordAttempt(ctx, &models.LoginAttempt{
		Identity:          in.Identity,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		Success:           true,
		RiskScore:         in.RiskScore,
		AttemptTime:       now,
		ExpiresAt:         now.Add(attemptRetention),
	})
	if err != nil {
		e.logger.Error("failed to record login attempt", slog.Any("error", err))
	}

	if err := e.lockouts.ClearFailures(ctx, in.Identity); err != nil {
		e.logger.Error("failed to clear failure state", slog.Any("error", err))
	}

	e.audit.RecordEvent(ctx, models.EventAttemptSucceeded, in.Identity, in.IPAddress, models.AlertEvidence{
		"risk_score": in.RiskScore,
	})
}
