package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/risk"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

// SessionStore persists session rows
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ActiveByUser(ctx context.Context, userID string) ([]*models.Session, error)
	RecentByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	Terminate(ctx context.Context, id, reason string) error
	TerminateAllForUser(ctx context.Context, userID, reason string) (int64, error)
	TouchActivity(ctx context.Context, id string) error
}

// DeviceStore tracks device sightings per user
type DeviceStore interface {
	RecordSighting(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error)
	SetTrustLevel(ctx context.Context, userID, fingerprint string, level models.TrustLevel) error
}

// PolicyStore persists per-role session policies
type PolicyStore interface {
	GetByRole(ctx context.Context, role string) (*models.SessionPolicy, error)
	Create(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error)
}

// UserGetter fetches users for session validation
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RiskAssessor scores a prospective session
type RiskAssessor interface {
	Assess(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error)
	AssessOperation(ctx context.Context, sess *models.Session, rc risk.Context) (*models.RiskAssessment, error)
}

// AssessmentStore persists risk assessments for audit
type AssessmentStore interface {
	Create(ctx context.Context, a *models.RiskAssessment) error
}

// SessionService owns the session lifecycle: policy-gated creation,
// server-side validation, and termination. Policies are materialized lazily
// per role from built-in defaults the first time a role logs in.
type SessionService struct {
	sessions    SessionStore
	devices     DeviceStore
	policies    PolicyStore
	users       UserGetter
	assessor    RiskAssessor
	assessments AssessmentStore
	tokens      *auth.TokenManager
	audit       *AuditService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(
	sessions SessionStore,
	devices DeviceStore,
	policies PolicyStore,
	users UserGetter,
	assessor RiskAssessor,
	assessments AssessmentStore,
	tokens *auth.TokenManager,
	audit *AuditService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *SessionService {
	return &SessionService{
		sessions:    sessions,
		devices:     devices,
		policies:    policies,
		users:       users,
		assessor:    assessor,
		assessments: assessments,
		tokens:      tokens,
		audit:       audit,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Token expiry trails session expiry by a grace window so an expired
// session is still observed server-side and terminated with its reason,
// rather than dying silently at the signature check.
const tokenExpiryGrace = 5 * time.Minute

// A device reaches the known tier after this many sightings, provided the
// admitting assessment scored low.
const trustPromotionSightings = 5

// SessionInput carries the request context a new session is created from.
type SessionInput struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *risk.Location
	StepUpVerified    bool
}

// SessionResult is a created session with its signed token and the risk
// assessment that admitted it.
type SessionResult struct {
	Session    *models.Session
	Token      string
	Assessment *models.RiskAssessment
}

// policyFor returns the role's stored policy, materializing the built-in
// default on first use. A conflict from a concurrent materialization is
// resolved by re-reading the winner's row.
func (s *SessionService) policyFor(ctx context.Context, role string) (*models.SessionPolicy, error) {
	pol, err := s.policies.GetByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if pol != nil {
		return pol, nil
	}

	pol, err = s.policies.Create(ctx, models.DefaultSessionPolicy(role))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return s.policies.GetByRole(ctx, role)
		}
		return nil, err
	}
	return pol, nil
}

// CreateSession admits a new session for an authenticated user. The gates
// run in order: risk score against the role ceiling, device trust against
// the role floor, step-up verification, then concurrency enforcement.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, in SessionInput) (*SessionResult, error) {
	pol, err := s.policyFor(ctx, user.Role)
	if err != nil {
		return nil, err
	}

	assessment := s.assess(ctx, user, in)

	if assessment.Score >= pol.RiskThreshold || assessment.Recommendation == models.RecommendBlock {
		factors := make([]string, 0, len(assessment.Factors))
		for _, f := range assessment.Factors {
			factors = append(factors, f.Description)
		}
		return nil, &models.RiskBlockedError{
			Score:     assessment.Score,
			Threshold: pol.RiskThreshold,
			Factors:   factors,
		}
	}

	device, err := s.devices.RecordSighting(ctx, user.ID, in.DeviceFingerprint, in.UserAgent, in.IPAddress)
	if err != nil {
		return nil, err
	}

	if device.TrustLevel == models.TrustUnknown && device.SeenCount >= trustPromotionSightings && assessment.Level == models.RiskLow {
		if err := s.devices.SetTrustLevel(ctx, user.ID, in.DeviceFingerprint, models.TrustKnown); err != nil {
			s.logger.Warn("failed to promote device trust",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		} else {
			device.TrustLevel = models.TrustKnown
		}
	}

	// The trust floor only bites on elevated-risk logins. A low-risk login
	// from a fresh device is how a device accumulates the sightings that
	// earn it trust in the first place.
	if !device.TrustLevel.AtLeast(pol.RequiredTrustLevel) && assessment.Level != models.RiskLow {
		return nil, &models.InsufficientTrustError{
			Current:  string(device.TrustLevel),
			Required: string(pol.RequiredTrustLevel),
		}
	}

	if (pol.RequireMFA || assessment.Recommendation == models.RecommendStepUp) && !in.StepUpVerified {
		return nil, models.ErrStepUpRequired
	}

	if err := s.enforceConcurrency(ctx, user.ID, in.DeviceFingerprint, pol); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &models.Session{
		UserID:            user.ID,
		Identity:          user.Email,
		DeviceFingerprint: in.DeviceFingerprint,
		DeviceTrust:       device.TrustLevel,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		RiskScore:         assessment.Score,
		RiskLevel:         assessment.Level,
		PolicyRole:        pol.Role,
		ExpiresAt:         now.Add(pol.SessionTimeout),
	}
	if in.Location != nil {
		sess.Country = in.Location.Country
		sess.City = in.Location.City
		sess.Latitude = in.Location.Latitude
		sess.Longitude = in.Location.Longitude
	}

	created, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GenerateSessionToken(user.ID, user.Email, user.Role, created.ID, created.ExpiresAt.Add(tokenExpiryGrace))
	if err != nil {
		// A session without a token is unusable; close it rather than
		// leaving it to count against the concurrency limit.
		if termErr := s.sessions.Terminate(ctx, created.ID, models.TerminationPolicyViolation); termErr != nil {
			s.logger.Error("failed to terminate tokenless session", slog.Any("error", termErr))
		}
		return nil, err
	}

	s.auditLogger.LogSessionAction("session_created", user.ID, created.ID, in.IPAddress, map[string]string{
		"risk_level": created.RiskLevel,
		"role":       pol.Role,
	})
	s.audit.RecordEvent(ctx, models.EventSessionCreated, user.Email, in.IPAddress, models.AlertEvidence{
		"session_id": created.ID,
		"risk_score": created.RiskScore,
	})

	return &SessionResult{Session: created, Token: token, Assessment: assessment}, nil
}

// assess runs the risk engine and persists the result. An assessor failure
// degrades to a zero-score assessment rather than refusing the login.
func (s *SessionService) assess(ctx context.Context, user *models.User, in SessionInput) *models.RiskAssessment {
	assessment, err := s.assessor.Assess(ctx, risk.Context{
		UserID:            user.ID,
		Identity:          user.Email,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		Location:          in.Location,
	})
	if err != nil || assessment == nil {
		s.logger.Warn("risk assessment unavailable, admitting unscored", slog.Any("error", err))
		return &models.RiskAssessment{
			UserID:         user.ID,
			Identity:       user.Email,
			Score:          0,
			Level:          models.RiskLow,
			Recommendation: models.RecommendMonitor,
			AssessedAt:     s.now(),
		}
	}

	if err := s.assessments.Create(ctx, assessment); err != nil {
		s.logger.Error("failed to persist risk assessment", slog.Any("error", err))
	}

	return assessment
}

// enforceConcurrency applies the role's session limits. A new login from an
// already-active device replaces that device's session. Force-unique roles
// drop everything else. Otherwise the oldest sessions by activity are
// terminated until the new session fits under the cap.
func (s *SessionService) enforceConcurrency(ctx context.Context, userID, fingerprint string, pol *models.SessionPolicy) error {
	if pol.ForceUniqueSession {
		count, err := s.sessions.TerminateAllForUser(ctx, userID, models.TerminationLimitExceeded)
		if err != nil {
			return err
		}
		if count > 0 {
			s.logger.Info("terminated sessions for unique-session policy",
				slog.String("user_id", userID),
				slog.Int64("count", count))
		}
		return nil
	}

	active, err := s.sessions.ActiveByUser(ctx, userID)
	if err != nil {
		return err
	}

	remaining := make([]*models.Session, 0, len(active))
	for _, sess := range active {
		if fingerprint != "" && sess.DeviceFingerprint == fingerprint {
			if err := s.sessions.Terminate(ctx, sess.ID, models.TerminationNewLoginDevice); err != nil {
				return err
			}
			continue
		}
		remaining = append(remaining, sess)
	}

	// remaining is oldest-activity first, so trimming from the front evicts
	// the stalest sessions.
	overflow := len(remaining) - pol.MaxConcurrentSessions + 1
	for i := 0; i < overflow; i++ {
		if err := s.sessions.Terminate(ctx, remaining[i].ID, models.TerminationLimitExceeded); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks a token against server-side session state. Expired
// sessions and sessions of deactivated users are terminated on sight.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, *models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, nil, models.ErrUnauthorized
	}

	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, models.ErrUnauthorized
	}

	if sess.Status != models.SessionActive {
		return nil, nil, models.ErrUnauthorized
	}

	if sess.Expired(s.now()) {
		if err := s.sessions.Terminate(ctx, sess.ID, models.TerminationExpired); err != nil {
			s.logger.Error("failed to terminate expired session", slog.Any("error", err))
		}
		return nil, nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, models.ErrUnauthorized
	}
	if !user.IsActive() {
		if err := s.sessions.Terminate(ctx, sess.ID, models.TerminationUserInactive); err != nil {
			s.logger.Error("failed to terminate session of inactive user", slog.Any("error", err))
		}
		return nil, nil, models.ErrUserInactive
	}

	if err := s.sessions.TouchActivity(ctx, sess.ID); err != nil {
		s.logger.Warn("failed to touch session activity", slog.Any("error", err))
	}

	return sess, claims, nil
}

// CheckOperation reassesses risk for a sensitive in-session operation. The
// score starts from the session's admission score and can only rise.
func (s *SessionService) CheckOperation(ctx context.Context, sess *models.Session, operation, ip, userAgent string) (*models.RiskAssessment, error) {
	pol, err := s.policyFor(ctx, sess.PolicyRole)
	if err != nil {
		return nil, err
	}

	assessment, err := s.assessor.AssessOperation(ctx, sess, risk.Context{
		UserID:            sess.UserID,
		Identity:          sess.Identity,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceFingerprint: sess.DeviceFingerprint,
		Operation:         operation,
	})
	if err != nil || assessment == nil {
		s.logger.Warn("operation risk assessment unavailable", slog.Any("error", err))
		return nil, nil
	}

	if err := s.assessments.Create(ctx, assessment); err != nil {
		s.logger.Error("failed to persist risk assessment", slog.Any("error", err))
	}

	if assessment.Score >= pol.RiskThreshold {
		factors := make([]string, 0, len(assessment.Factors))
		for _, f := range assessment.Factors {
			factors = append(factors, f.Description)
		}
		return assessment, &models.RiskBlockedError{
			Score:     assessment.Score,
			Threshold: pol.RiskThreshold,
			Factors:   factors,
		}
	}

	return assessment, nil
}

// Terminate ends one session. Terminating an already-terminated session is
// a no-op, preserving the original termination reason.
func (s *SessionService) Terminate(ctx context.Context, sessionID, reason string) error {
	if err := s.sessions.Terminate(ctx, sessionID, reason); err != nil {
		return err
	}
	s.audit.RecordEvent(ctx, models.EventSessionTerminated, "", "", models.AlertEvidence{
		"session_id": sessionID,
		"reason":     reason,
	})
	return nil
}

// TerminateAll ends every active session a user holds.
func (s *SessionService) TerminateAll(ctx context.Context, userID, reason string) (int64, error) {
	count, err := s.sessions.TerminateAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.auditLogger.LogSessionAction("sessions_terminated", userID, "", "", map[string]string{
			"reason": reason,
		})
	}
	return count, nil
}

// ListSessions returns a user's recent sessions for self-service review.
func (s *SessionService) ListSessions(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	return s.sessions.RecentByUser(ctx, userID, limit)
}
