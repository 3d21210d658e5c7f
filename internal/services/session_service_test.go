package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/risk"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

type sessionServiceMocks struct {
	sessions    *MockSessionStore
	devices     *MockDeviceStore
	policies    *MockPolicyStore
	users       *MockUserGetter
	assessor    *MockRiskAssessor
	assessments *MockAssessmentStore
	tokens      *auth.TokenManager
}

func newTestSessionService(m *sessionServiceMocks) *SessionService {
	if m.sessions == nil {
		m.sessions = &MockSessionStore{}
	}
	if m.devices == nil {
		m.devices = &MockDeviceStore{}
	}
	if m.policies == nil {
		m.policies = &MockPolicyStore{}
	}
	if m.users == nil {
		m.users = &MockUserGetter{}
	}
	if m.assessor == nil {
		m.assessor = &MockRiskAssessor{}
	}
	if m.assessments == nil {
		m.assessments = &MockAssessmentStore{}
	}
	if m.tokens == nil {
		m.tokens = auth.NewTokenManager("test-session-secret", time.Hour)
	}

	logger := slog.Default()
	return NewSessionService(
		m.sessions, m.devices, m.policies, m.users,
		m.assessor, m.assessments, m.tokens,
		newTestAuditService(nil, nil, nil),
		logger, pkglogger.NewAuditLogger(logger),
	)
}

func defaultSessionInput() SessionInput {
	return SessionInput{
		IPAddress:         "203.0.113.10",
		UserAgent:         "test-agent",
		DeviceFingerprint: "fp-1",
	}
}

// ============================================================================
// Policy materialization
// ============================================================================

func TestSessionService_PolicyMaterializedOnFirstUse(t *testing.T) {
	var created *models.SessionPolicy
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			return nil, nil
		},
		CreateFunc: func(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error) {
			created = p
			p.ID = "policy123"
			return p, nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{policies: policies})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, created)
	assert.Equal(t, "student", created.Role)
	assert.Equal(t, 5, created.MaxConcurrentSessions)
	assert.Equal(t, 24*time.Hour, created.SessionTimeout)
}

func TestSessionService_PolicyConflictReReadsWinner(t *testing.T) {
	reads := 0
	winner := models.DefaultSessionPolicy("student")
	winner.ID = "policy456"
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			reads++
			if reads == 1 {
				return nil, nil
			}
			return winner, nil
		},
		CreateFunc: func(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error) {
			return nil, models.ErrConflict
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{policies: policies})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, reads)
}

// ============================================================================
// Admission gates
// ============================================================================

func TestSessionService_CreateSession_Success(t *testing.T) {
	svc := newTestSessionService(&sessionServiceMocks{})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "user123", result.Session.UserID)
	assert.Equal(t, "fp-1", result.Session.DeviceFingerprint)
	assert.Equal(t, models.SessionActive, result.Session.Status)

	claims, err := auth.NewTokenManager("test-session-secret", time.Hour).ValidateToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, claims.SessionID)
	assert.Equal(t, "user123", claims.UserID)
}

func TestSessionService_CreateSession_TokenOutlivesSessionExpiry(t *testing.T) {
	svc := newTestSessionService(&sessionServiceMocks{})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())
	require.NoError(t, err)

	// The token must stay parseable past session expiry so Validate can
	// observe the expired row and terminate it with the right reason.
	claims, err := auth.NewTokenManager("test-session-secret", time.Hour).ValidateToken(result.Token)
	require.NoError(t, err)
	assert.WithinDuration(t, result.Session.ExpiresAt.Add(tokenExpiryGrace), claims.ExpiresAt.Time, time.Second)
}

func TestSessionService_CreateSession_RiskAboveCeilingBlocked(t *testing.T) {
	assessor := &MockRiskAssessor{
		AssessFunc: func(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error) {
			a := NewTestAssessment(rc.UserID, rc.Identity, 85)
			a.Factors = []models.RiskFactor{
				{Category: "threat_intel", Description: "source IP on threat list", Score: 85, Severity: models.SeverityCritical},
			}
			return a, nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{assessor: assessor})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.Error(t, err)
	assert.Nil(t, result)

	var riskErr *models.RiskBlockedError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, 85, riskErr.Score)
	assert.Equal(t, 80, riskErr.Threshold)
	assert.Contains(t, riskErr.Factors, "source IP on threat list")
}

func TestSessionService_CreateSession_AssessorOutageAdmitsUnscored(t *testing.T) {
	assessor := &MockRiskAssessor{
		AssessFunc: func(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error) {
			return nil, context.DeadlineExceeded
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{assessor: assessor})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Zero(t, result.Assessment.Score)
	assert.Equal(t, models.RecommendMonitor, result.Assessment.Recommendation)
}

func TestSessionService_CreateSession_InsufficientDeviceTrust(t *testing.T) {
	devices := &MockDeviceStore{
		RecordSightingFunc: func(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error) {
			return &models.TrustedDevice{
				UserID:      userID,
				Fingerprint: fingerprint,
				TrustLevel:  models.TrustUnknown,
				SeenCount:   1,
			}, nil
		},
	}
	assessor := &MockRiskAssessor{
		AssessFunc: func(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error) {
			return NewTestAssessment(rc.UserID, rc.Identity, 35), nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{devices: devices, assessor: assessor})

	// The admin policy requires at least a known device once risk is
	// anything above low.
	user := NewTestUser("admin123", "admin@example.com", "admin")
	result, err := svc.CreateSession(context.Background(), user, SessionInput{
		IPAddress:         "203.0.113.10",
		DeviceFingerprint: "fp-new",
		StepUpVerified:    true,
	})

	require.Error(t, err)
	assert.Nil(t, result)

	var trustErr *models.InsufficientTrustError
	require.ErrorAs(t, err, &trustErr)
	assert.Equal(t, string(models.TrustUnknown), trustErr.Current)
	assert.Equal(t, string(models.TrustKnown), trustErr.Required)
}

func TestSessionService_CreateSession_LowRiskAdmitsUnknownDevice(t *testing.T) {
	devices := &MockDeviceStore{
		RecordSightingFunc: func(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error) {
			return &models.TrustedDevice{
				UserID:      userID,
				Fingerprint: fingerprint,
				TrustLevel:  models.TrustUnknown,
				SeenCount:   1,
			}, nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{devices: devices})

	// A fresh device must not lock an admin out forever: at low risk the
	// trust floor is waived so the device can start earning sightings.
	user := NewTestUser("admin123", "admin@example.com", "admin")
	result, err := svc.CreateSession(context.Background(), user, SessionInput{
		IPAddress:         "203.0.113.10",
		DeviceFingerprint: "fp-new",
		StepUpVerified:    true,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.TrustUnknown, result.Session.DeviceTrust)
}

func TestSessionService_CreateSession_DevicePromotedAfterSightings(t *testing.T) {
	var promoted models.TrustLevel
	devices := &MockDeviceStore{
		RecordSightingFunc: func(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error) {
			return &models.TrustedDevice{
				UserID:      userID,
				Fingerprint: fingerprint,
				TrustLevel:  models.TrustUnknown,
				SeenCount:   trustPromotionSightings,
			}, nil
		},
		SetTrustLevelFunc: func(ctx context.Context, userID, fingerprint string, level models.TrustLevel) error {
			promoted = level
			return nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{devices: devices})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.TrustKnown, promoted)
	assert.Equal(t, models.TrustKnown, result.Session.DeviceTrust)
}

func TestSessionService_CreateSession_PolicyMFARequiresStepUp(t *testing.T) {
	svc := newTestSessionService(&sessionServiceMocks{})

	user := NewTestUser("admin123", "admin@example.com", "admin")
	in := defaultSessionInput()

	_, err := svc.CreateSession(context.Background(), user, in)
	assert.ErrorIs(t, err, models.ErrStepUpRequired)

	in.StepUpVerified = true
	result, err := svc.CreateSession(context.Background(), user, in)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestSessionService_CreateSession_RiskRecommendationRequiresStepUp(t *testing.T) {
	assessor := &MockRiskAssessor{
		AssessFunc: func(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error) {
			return NewTestAssessment(rc.UserID, rc.Identity, 65), nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{assessor: assessor})

	// Students have no MFA policy, but a score of 65 recommends step-up.
	user := NewTestUser("user123", "user@example.com", "student")
	_, err := svc.CreateSession(context.Background(), user, defaultSessionInput())
	assert.ErrorIs(t, err, models.ErrStepUpRequired)

	in := defaultSessionInput()
	in.StepUpVerified = true
	result, err := svc.CreateSession(context.Background(), user, in)
	require.NoError(t, err)
	assert.Equal(t, 65, result.Session.RiskScore)
}

// ============================================================================
// Concurrency enforcement
// ============================================================================

func TestSessionService_SameDeviceLoginReplacesSession(t *testing.T) {
	terminated := map[string]string{}
	sessions := &MockSessionStore{
		ActiveByUserFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{NewTestSession("old-session", userID, "fp-1")}, nil
		},
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			terminated[id] = reason
			return nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{sessions: sessions})

	user := NewTestUser("user123", "user@example.com", "student")
	result, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.TerminationNewLoginDevice, terminated["old-session"])
}

func TestSessionService_OverflowEvictsOldestByActivity(t *testing.T) {
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			pol := models.DefaultSessionPolicy(role)
			pol.ID = "policy123"
			pol.MaxConcurrentSessions = 2
			return pol, nil
		},
	}
	terminated := map[string]string{}
	sessions := &MockSessionStore{
		ActiveByUserFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			// Oldest activity first, matching the repository ordering.
			return []*models.Session{
				NewTestSession("stale", userID, "fp-a"),
				NewTestSession("fresh", userID, "fp-b"),
			}, nil
		},
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			terminated[id] = reason
			return nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{sessions: sessions, policies: policies})

	user := NewTestUser("user123", "user@example.com", "student")
	in := defaultSessionInput()
	in.DeviceFingerprint = "fp-c"
	result, err := svc.CreateSession(context.Background(), user, in)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.TerminationLimitExceeded, terminated["stale"])
	assert.NotContains(t, terminated, "fresh")
}

func TestSessionService_ForceUniqueTerminatesEverything(t *testing.T) {
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			pol := models.DefaultSessionPolicy(role)
			pol.ID = "policy123"
			pol.ForceUniqueSession = true
			return pol, nil
		},
	}
	var terminatedAll bool
	var reason string
	sessions := &MockSessionStore{
		TerminateAllForUserFunc: func(ctx context.Context, userID, r string) (int64, error) {
			terminatedAll = true
			reason = r
			return 3, nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{sessions: sessions, policies: policies})

	user := NewTestUser("user123", "user@example.com", "student")
	_, err := svc.CreateSession(context.Background(), user, defaultSessionInput())

	require.NoError(t, err)
	assert.True(t, terminatedAll)
	assert.Equal(t, models.TerminationLimitExceeded, reason)
}

// ============================================================================
// Validation
// ============================================================================

func validateFixture(t *testing.T, sess *models.Session, user *models.User) (*SessionService, string, *MockSessionStore) {
	t.Helper()
	tokens := auth.NewTokenManager("test-session-secret", time.Hour)
	token, err := tokens.GenerateSessionToken(sess.UserID, "user@example.com", "student", sess.ID, sess.ExpiresAt.Add(tokenExpiryGrace))
	require.NoError(t, err)

	sessions := &MockSessionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
			if id == sess.ID {
				return sess, nil
			}
			return nil, models.ErrNotFound
		},
	}
	users := &MockUserGetter{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			if user != nil && id == user.ID {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{sessions: sessions, users: users, tokens: tokens})
	return svc, token, sessions
}

func TestSessionService_Validate_Success(t *testing.T) {
	user := NewTestUser("user123", "user@example.com", "student")
	sess := NewTestSession("session123", user.ID, "fp-1")

	var touched string
	svc, token, sessions := validateFixture(t, sess, user)
	sessions.TouchActivityFunc = func(ctx context.Context, id string) error {
		touched = id
		return nil
	}

	gotSess, claims, err := svc.Validate(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, sess.ID, gotSess.ID)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, sess.ID, touched)
}

func TestSessionService_Validate_GarbageToken(t *testing.T) {
	svc := newTestSessionService(&sessionServiceMocks{})

	_, _, err := svc.Validate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_Validate_TerminatedSessionRejected(t *testing.T) {
	user := NewTestUser("user123", "user@example.com", "student")
	sess := NewTestSession("session123", user.ID, "fp-1")
	sess.Status = models.SessionTerminated

	svc, token, _ := validateFixture(t, sess, user)

	_, _, err := svc.Validate(context.Background(), token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_Validate_ExpiredSessionTerminated(t *testing.T) {
	user := NewTestUser("user123", "user@example.com", "student")
	sess := NewTestSession("session123", user.ID, "fp-1")
	sess.ExpiresAt = time.Now().Add(-time.Minute)

	svc, token, sessions := validateFixture(t, sess, user)
	var reason string
	sessions.TerminateFunc = func(ctx context.Context, id, r string) error {
		reason = r
		return nil
	}

	_, _, err := svc.Validate(context.Background(), token)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, models.TerminationExpired, reason)
}

func TestSessionService_Validate_InactiveUserTerminated(t *testing.T) {
	user := NewTestUser("user123", "user@example.com", "student")
	user.Status = "suspended"
	sess := NewTestSession("session123", user.ID, "fp-1")

	svc, token, sessions := validateFixture(t, sess, user)
	var reason string
	sessions.TerminateFunc = func(ctx context.Context, id, r string) error {
		reason = r
		return nil
	}

	_, _, err := svc.Validate(context.Background(), token)

	assert.ErrorIs(t, err, models.ErrUserInactive)
	assert.Equal(t, models.TerminationUserInactive, reason)
}

// ============================================================================
// Operation checks
// ============================================================================

func TestSessionService_CheckOperation_ScoreOnlyRises(t *testing.T) {
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			pol := models.DefaultSessionPolicy(role)
			pol.ID = "policy123"
			return pol, nil
		},
	}
	assessor := &MockRiskAssessor{
		AssessOperationFunc: func(ctx context.Context, sess *models.Session, rc risk.Context) (*models.RiskAssessment, error) {
			// Operation reassessment starts from the admission score.
			return NewTestAssessment(rc.UserID, rc.Identity, sess.RiskScore+5), nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{policies: policies, assessor: assessor})

	sess := NewTestSession("session123", "user123", "fp-1")
	sess.RiskScore = 40

	assessment, err := svc.CheckOperation(context.Background(), sess, "grade_change", "203.0.113.10", "test-agent")

	require.NoError(t, err)
	assert.Equal(t, 45, assessment.Score)
}

func TestSessionService_CheckOperation_BlocksAboveThreshold(t *testing.T) {
	policies := &MockPolicyStore{
		GetByRoleFunc: func(ctx context.Context, role string) (*models.SessionPolicy, error) {
			pol := models.DefaultSessionPolicy(role)
			pol.ID = "policy123"
			return pol, nil
		},
	}
	assessor := &MockRiskAssessor{
		AssessOperationFunc: func(ctx context.Context, sess *models.Session, rc risk.Context) (*models.RiskAssessment, error) {
			return NewTestAssessment(rc.UserID, rc.Identity, 90), nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{policies: policies, assessor: assessor})

	sess := NewTestSession("session123", "user123", "fp-1")
	assessment, err := svc.CheckOperation(context.Background(), sess, "grade_change", "203.0.113.10", "test-agent")

	require.Error(t, err)
	require.NotNil(t, assessment)

	var riskErr *models.RiskBlockedError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, 90, riskErr.Score)
}

// ============================================================================
// Termination
// ============================================================================

func TestSessionService_Terminate_DelegatesReason(t *testing.T) {
	var gotID, gotReason string
	sessions := &MockSessionStore{
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			gotID = id
			gotReason = reason
			return nil
		},
	}
	svc := newTestSessionService(&sessionServiceMocks{sessions: sessions})

	require.NoError(t, svc.Terminate(context.Background(), "session123", models.TerminationLogout))
	assert.Equal(t, "session123", gotID)
	assert.Equal(t, models.TerminationLogout, gotReason)
}
