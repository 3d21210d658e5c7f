package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/policy"
	"github.com/mwalcott3/vigil/internal/risk"
	pkgauth "github.com/mwalcott3/vigil/pkg/auth"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

// UserStore fetches users for authentication
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetMFASecret(ctx context.Context, userID, secret string) error
}

// AuthService orchestrates the login flow: the security verdict runs before
// credentials are touched, the progressive delay is served in-line, and
// every outcome is recorded back into the engine's counters.
type AuthService struct {
	users       UserStore
	engine      *SecurityEngine
	sessions    *SessionService
	stepUp      *auth.StepUpManager
	admin       *AdminService
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	engine *SecurityEngine,
	sessions *SessionService,
	stepUp *auth.StepUpManager,
	admin *AdminService,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		engine:      engine,
		sessions:    sessions,
		stepUp:      stepUp,
		admin:       admin,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// LoginInput carries one login request.
type LoginInput struct {
	Email             string
	Password          string
	StepUpCode        string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *risk.Location
}

// Login authenticates a user and establishes a session.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*SessionResult, error) {
	started := time.Now()
	identity := strings.ToLower(strings.TrimSpace(in.Email))
	if identity == "" {
		return nil, models.ErrBadRequest
	}

	decision := s.engine.Evaluate(ctx, identity, in.IPAddress)
	switch decision.Action {
	case policy.ActionLockout:
		return nil, &models.AccountLockedError{
			Identity:   identity,
			CanRetryAt: time.Now().Add(decision.RetryAfter),
		}
	case policy.ActionRateLimit:
		return nil, &models.RateLimitedError{
			Scenario:  ScenarioLoginIP,
			Count:     decision.EffectiveCount,
			Limit:     s.engine.thresholds.RateLimit,
			ResetTime: time.Now().Add(decision.RetryAfter),
		}
	case policy.ActionBlock:
		return nil, models.ErrForbidden
	case policy.ActionDelay:
		if err := sleepCtx(ctx, decision.Delay); err != nil {
			return nil, err
		}
	}

	user, err := s.users.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.recordFailure(ctx, identity, in, models.FailureInvalidCredentials, 0)
			s.timing.WaitFrom(started, false)
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	if !user.IsActive() {
		s.recordFailure(ctx, identity, in, models.FailureAccountState, 0)
		s.timing.WaitFrom(started, false)
		// Indistinguishable from bad credentials to the caller.
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, in.Password); err != nil {
		locked := s.recordFailure(ctx, identity, in, models.FailureInvalidCredentials, 0)
		s.timing.WaitFrom(started, false)
		if locked {
			return nil, &models.AccountLockedError{
				Identity:   identity,
				CanRetryAt: time.Now().Add(s.engine.lockoutDuration),
			}
		}
		return nil, models.ErrUnauthorized
	}

	if s.admin != nil && s.admin.InMaintenance() && user.Role != "admin" {
		return nil, models.ErrMaintenanceMode
	}

	stepUpVerified := false
	if in.StepUpCode != "" && user.MFASecret != nil {
		stepUpVerified = s.stepUp.VerifyCode(*user.MFASecret, in.StepUpCode)
	}

	result, err := s.sessions.CreateSession(ctx, user, SessionInput{
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		Location:          in.Location,
		StepUpVerified:    stepUpVerified,
	})
	if err != nil {
		var riskErr *models.RiskBlockedError
		var trustErr *models.InsufficientTrustError
		switch {
		case errors.As(err, &riskErr):
			s.recordFailure(ctx, identity, in, models.FailureRiskBlocked, riskErr.Score)
		case errors.As(err, &trustErr):
			s.recordFailure(ctx, identity, in, models.FailureInsufficientTrust, 0)
		case errors.Is(err, models.ErrStepUpRequired):
			// Not an attack signal; the caller retries with a code.
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_step_up_challenge",
				UserID:        user.ID,
				Identity:      identity,
				IPAddress:     in.IPAddress,
				Success:       false,
				FailureReason: models.FailureStepUpRequired,
			})
		}
		return nil, err
	}

	s.engine.RecordSuccessfulAttempt(ctx, AttemptInput{
		Identity:          identity,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		RiskScore:         result.Assessment.Score,
	})
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_succeeded",
		UserID:    user.ID,
		Identity:  identity,
		IPAddress: in.IPAddress,
		RiskScore: result.Assessment.Score,
		Success:   true,
	})

	return result, nil
}

// Logout terminates the calling session.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Terminate(ctx, sessionID, models.TerminationLogout)
}

// BeginStepUpEnrollment issues a fresh TOTP secret for a user and stores it
// as their step-up factor. Re-enrolling replaces the previous secret, so a
// lost authenticator is recovered by enrolling again from a live session.
func (s *AuthService) BeginStepUpEnrollment(ctx context.Context, userID, email string) (*auth.Enrollment, error) {
	enrollment, err := s.stepUp.GenerateEnrollment(email)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetMFASecret(ctx, userID, enrollment.Secret); err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "step_up_enrolled",
		UserID:    userID,
		Identity:  email,
		Success:   true,
	})
	return enrollment, nil
}

func (s *AuthService) recordFailure(ctx context.Context, identity string, in LoginInput, reason string, riskScore int) bool {
	locked := s.engine.RecordFailedAttempt(ctx, AttemptInput{
		Identity:          identity,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		FailureReason:     reason,
		RiskScore:         riskScore,
	})
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		Identity:      identity,
		IPAddress:     in.IPAddress,
		Success:       false,
		FailureReason: reason,
	})
	return locked
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
