package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/repositories"
	"github.com/mwalcott3/vigil/internal/risk"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

// MockCounterStore implements counter.Store for testing
type MockCounterStore struct {
	IncrementFunc   func(ctx context.Context, key string, window time.Duration, limit int) (counter.Result, error)
	GetFunc         func(ctx context.Context, key string) (*counter.Result, error)
	ResetFunc       func(ctx context.Context, key string) error
	ResetPrefixFunc func(ctx context.Context, prefix string) (int64, error)
	PruneFunc       func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockCounterStore) Increment(ctx context.Context, key string, window time.Duration, limit int) (counter.Result, error) {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, key, window, limit)
	}
	return counter.Result{Count: 1, ResetTime: time.Now().Add(window), Allowed: true}, nil
}

func (m *MockCounterStore) Get(ctx context.Context, key string) (*counter.Result, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, nil
}

func (m *MockCounterStore) Reset(ctx context.Context, key string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, key)
	}
	return nil
}

func (m *MockCounterStore) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	if m.ResetPrefixFunc != nil {
		return m.ResetPrefixFunc(ctx, prefix)
	}
	return 0, nil
}

func (m *MockCounterStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockLockoutStore implements LockoutStore and LockoutAdminStore for testing
type MockLockoutStore struct {
	UpsertFunc    func(ctx context.Context, identity, reason string, lockedUntil time.Time) error
	GetActiveFunc func(ctx context.Context, identity string) (*models.AccountLockout, error)
	DeleteFunc    func(ctx context.Context, identity string) error
	DeleteAllFunc func(ctx context.Context) (int64, error)
}

func (m *MockLockoutStore) Upsert(ctx context.Context, identity, reason string, lockedUntil time.Time) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, identity, reason, lockedUntil)
	}
	return nil
}

func (m *MockLockoutStore) GetActive(ctx context.Context, identity string) (*models.AccountLockout, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, identity)
	}
	return nil, nil
}

func (m *MockLockoutStore) Delete(ctx context.Context, identity string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, identity)
	}
	return nil
}

func (m *MockLockoutStore) DeleteAll(ctx context.Context) (int64, error) {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx)
	}
	return 0, nil
}

// MockAttemptRecorder implements AttemptRecorder for testing
type MockAttemptRecorder struct {
	RecordAttemptFunc func(ctx context.Context, attempt *models.LoginAttempt) error
}

func (m *MockAttemptRecorder) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

// MockEventLog implements EventLog for testing
type MockEventLog struct {
	AppendFunc func(ctx context.Context, e *models.SecurityEvent) error
}

func (m *MockEventLog) Append(ctx context.Context, e *models.SecurityEvent) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	return nil
}

// MockAlertStore implements AlertStore for testing
type MockAlertStore struct {
	CreateFunc               func(ctx context.Context, a *models.SecurityAlert) (*models.SecurityAlert, error)
	ActiveByTypeIdentityFunc func(ctx context.Context, alertType, identity string) (*models.SecurityAlert, error)
	TouchFunc                func(ctx context.Context, id string) error
}

func (m *MockAlertStore) Create(ctx context.Context, a *models.SecurityAlert) (*models.SecurityAlert, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, a)
	}
	a.ID = "alert123"
	a.Status = models.AlertActive
	a.CreatedAt = time.Now()
	return a, nil
}

func (m *MockAlertStore) ActiveByTypeIdentity(ctx context.Context, alertType, identity string) (*models.SecurityAlert, error) {
	if m.ActiveByTypeIdentityFunc != nil {
		return m.ActiveByTypeIdentityFunc(ctx, alertType, identity)
	}
	return nil, nil
}

func (m *MockAlertStore) Touch(ctx context.Context, id string) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id)
	}
	return nil
}

// MockAlertNotifier implements AlertNotifier for testing
type MockAlertNotifier struct {
	NotifyAlertFunc func(ctx context.Context, alert *models.SecurityAlert) error
}

func (m *MockAlertNotifier) NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if m.NotifyAlertFunc != nil {
		return m.NotifyAlertFunc(ctx, alert)
	}
	return nil
}

// MockSessionStore implements SessionStore for testing
type MockSessionStore struct {
	CreateFunc              func(ctx context.Context, s *models.Session) (*models.Session, error)
	GetByIDFunc             func(ctx context.Context, id string) (*models.Session, error)
	ActiveByUserFunc        func(ctx context.Context, userID string) ([]*models.Session, error)
	RecentByUserFunc        func(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	TerminateFunc           func(ctx context.Context, id, reason string) error
	TerminateAllForUserFunc func(ctx context.Context, userID, reason string) (int64, error)
	TouchActivityFunc       func(ctx context.Context, id string) error
}

func (m *MockSessionStore) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	s.ID = "session123"
	s.Status = models.SessionActive
	s.CreatedAt = time.Now()
	s.LastActivityAt = s.CreatedAt
	return s, nil
}

func (m *MockSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) ActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ActiveByUserFunc != nil {
		return m.ActiveByUserFunc(ctx, userID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	if m.RecentByUserFunc != nil {
		return m.RecentByUserFunc(ctx, userID, limit)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) Terminate(ctx context.Context, id, reason string) error {
	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockSessionStore) TerminateAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	if m.TerminateAllForUserFunc != nil {
		return m.TerminateAllForUserFunc(ctx, userID, reason)
	}
	return 0, nil
}

func (m *MockSessionStore) TouchActivity(ctx context.Context, id string) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(ctx, id)
	}
	return nil
}

// MockDeviceStore implements DeviceStore for testing
type MockDeviceStore struct {
	RecordSightingFunc func(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error)
	SetTrustLevelFunc  func(ctx context.Context, userID, fingerprint string, level models.TrustLevel) error
}

func (m *MockDeviceStore) RecordSighting(ctx context.Context, userID, fingerprint, userAgent, ip string) (*models.TrustedDevice, error) {
	if m.RecordSightingFunc != nil {
		return m.RecordSightingFunc(ctx, userID, fingerprint, userAgent, ip)
	}
	return &models.TrustedDevice{
		ID:          "device123",
		UserID:      userID,
		Fingerprint: fingerprint,
		TrustLevel:  models.TrustKnown,
		UserAgent:   userAgent,
		LastIP:      ip,
		SeenCount:   2,
	}, nil
}

func (m *MockDeviceStore) SetTrustLevel(ctx context.Context, userID, fingerprint string, level models.TrustLevel) error {
	if m.SetTrustLevelFunc != nil {
		return m.SetTrustLevelFunc(ctx, userID, fingerprint, level)
	}
	return nil
}

// MockPolicyStore implements PolicyStore for testing
type MockPolicyStore struct {
	GetByRoleFunc func(ctx context.Context, role string) (*models.SessionPolicy, error)
	CreateFunc    func(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error)
}

func (m *MockPolicyStore) GetByRole(ctx context.Context, role string) (*models.SessionPolicy, error) {
	if m.GetByRoleFunc != nil {
		return m.GetByRoleFunc(ctx, role)
	}
	return nil, nil
}

func (m *MockPolicyStore) Create(ctx context.Context, p *models.SessionPolicy) (*models.SessionPolicy, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	p.ID = "policy123"
	p.CreatedAt = time.Now()
	return p, nil
}

// MockUserGetter implements UserGetter for testing
type MockUserGetter struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserGetter) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockUserStore implements UserStore for testing
type MockUserStore struct {
	GetByEmailFunc   func(ctx context.Context, email string) (*models.User, error)
	SetMFASecretFunc func(ctx context.Context, userID, secret string) error
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) SetMFASecret(ctx context.Context, userID, secret string) error {
	if m.SetMFASecretFunc != nil {
		return m.SetMFASecretFunc(ctx, userID, secret)
	}
	return nil
}

// MockRiskAssessor implements RiskAssessor for testing
type MockRiskAssessor struct {
	AssessFunc          func(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error)
	AssessOperationFunc func(ctx context.Context, sess *models.Session, rc risk.Context) (*models.RiskAssessment, error)
}

func (m *MockRiskAssessor) Assess(ctx context.Context, rc risk.Context) (*models.RiskAssessment, error) {
	if m.AssessFunc != nil {
		return m.AssessFunc(ctx, rc)
	}
	return NewTestAssessment(rc.UserID, rc.Identity, 0), nil
}

func (m *MockRiskAssessor) AssessOperation(ctx context.Context, sess *models.Session, rc risk.Context) (*models.RiskAssessment, error) {
	if m.AssessOperationFunc != nil {
		return m.AssessOperationFunc(ctx, sess, rc)
	}
	return NewTestAssessment(rc.UserID, rc.Identity, sess.RiskScore), nil
}

// MockAssessmentStore implements AssessmentStore for testing
type MockAssessmentStore struct {
	CreateFunc func(ctx context.Context, a *models.RiskAssessment) error
}

func (m *MockAssessmentStore) Create(ctx context.Context, a *models.RiskAssessment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, a)
	}
	return nil
}

// MockAttemptAnalytics implements AttemptAnalytics for testing
type MockAttemptAnalytics struct {
	GroupFailuresByIPFunc func(ctx context.Context, since time.Time, threshold int) ([]repositories.IPFailureCluster, error)
}

func (m *MockAttemptAnalytics) GroupFailuresByIP(ctx context.Context, since time.Time, threshold int) ([]repositories.IPFailureCluster, error) {
	if m.GroupFailuresByIPFunc != nil {
		return m.GroupFailuresByIPFunc(ctx, since, threshold)
	}
	return []repositories.IPFailureCluster{}, nil
}

// MockSessionAnalytics implements SessionAnalytics for testing
type MockSessionAnalytics struct {
	RiskBucketCountsFunc         func(ctx context.Context, since time.Time) (map[string]int64, error)
	HighRiskLocationClustersFunc func(ctx context.Context, riskFloor, minCluster int) ([]repositories.LocationCluster, error)
	TopLocationsFunc             func(ctx context.Context, since time.Time, limit int) ([]repositories.LocationCluster, error)
}

func (m *MockSessionAnalytics) RiskBucketCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	if m.RiskBucketCountsFunc != nil {
		return m.RiskBucketCountsFunc(ctx, since)
	}
	return map[string]int64{}, nil
}

func (m *MockSessionAnalytics) HighRiskLocationClusters(ctx context.Context, riskFloor, minCluster int) ([]repositories.LocationCluster, error) {
	if m.HighRiskLocationClustersFunc != nil {
		return m.HighRiskLocationClustersFunc(ctx, riskFloor, minCluster)
	}
	return []repositories.LocationCluster{}, nil
}

func (m *MockSessionAnalytics) TopLocations(ctx context.Context, since time.Time, limit int) ([]repositories.LocationCluster, error) {
	if m.TopLocationsFunc != nil {
		return m.TopLocationsFunc(ctx, since, limit)
	}
	return []repositories.LocationCluster{}, nil
}

// MockAlertAnalytics implements AlertAnalytics for testing
type MockAlertAnalytics struct {
	ActiveFunc       func(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
	CountsByTypeFunc func(ctx context.Context, since time.Time) (map[string]int64, error)
	ActiveCountFunc  func(ctx context.Context) (int64, error)
}

func (m *MockAlertAnalytics) Active(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if m.ActiveFunc != nil {
		return m.ActiveFunc(ctx, limit)
	}
	return []*models.SecurityAlert{}, nil
}

func (m *MockAlertAnalytics) CountsByType(ctx context.Context, since time.Time) (map[string]int64, error) {
	if m.CountsByTypeFunc != nil {
		return m.CountsByTypeFunc(ctx, since)
	}
	return map[string]int64{}, nil
}

func (m *MockAlertAnalytics) ActiveCount(ctx context.Context) (int64, error) {
	if m.ActiveCountFunc != nil {
		return m.ActiveCountFunc(ctx)
	}
	return 0, nil
}

// MockLockoutAnalytics implements LockoutAnalytics for testing
type MockLockoutAnalytics struct {
	ActiveCountFunc func(ctx context.Context) (int64, error)
}

func (m *MockLockoutAnalytics) ActiveCount(ctx context.Context) (int64, error) {
	if m.ActiveCountFunc != nil {
		return m.ActiveCountFunc(ctx)
	}
	return 0, nil
}

// MockEventAnalytics implements EventAnalytics for testing
type MockEventAnalytics struct {
	KindCountsSinceFunc func(ctx context.Context, since time.Time) (map[string]int64, error)
}

func (m *MockEventAnalytics) KindCountsSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	if m.KindCountsSinceFunc != nil {
		return m.KindCountsSinceFunc(ctx, since)
	}
	return map[string]int64{}, nil
}

// MockDeviceAnalytics implements DeviceAnalytics for testing
type MockDeviceAnalytics struct {
	TrustDistributionFunc func(ctx context.Context) (map[models.TrustLevel]int64, error)
}

func (m *MockDeviceAnalytics) TrustDistribution(ctx context.Context) (map[models.TrustLevel]int64, error) {
	if m.TrustDistributionFunc != nil {
		return m.TrustDistributionFunc(ctx)
	}
	return map[models.TrustLevel]int64{}, nil
}

// NewTestUser creates an active user with the given role
func NewTestUser(id, email, role string) *models.User {
	now := time.Now()
	return &models.User{
		ID:        id,
		Email:     email,
		Name:      "Test User",
		Role:      role,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestAssessment creates a low-ceremony assessment at the given score
func NewTestAssessment(userID, identity string, score int) *models.RiskAssessment {
	return &models.RiskAssessment{
		UserID:         userID,
		Identity:       identity,
		Score:          score,
		Level:          models.RiskLevelFor(score),
		Recommendation: models.RecommendationFor(score),
		AssessedAt:     time.Now(),
	}
}

// NewTestSession creates an active session for a user
func NewTestSession(id, userID, fingerprint string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                id,
		UserID:            userID,
		Identity:          "user@example.com",
		DeviceFingerprint: fingerprint,
		DeviceTrust:       models.TrustKnown,
		IPAddress:         "203.0.113.10",
		UserAgent:         "test-agent",
		RiskScore:         10,
		RiskLevel:         models.RiskLow,
		Status:            models.SessionActive,
		PolicyRole:        "student",
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
}

// newTestAuditService builds an AuditService over the given mocks. Nil mocks
// get benign defaults.
func newTestAuditService(events *MockEventLog, alerts *MockAlertStore, notifier AlertNotifier) *AuditService {
	if events == nil {
		events = &MockEventLog{}
	}
	if alerts == nil {
		alerts = &MockAlertStore{}
	}
	logger := slog.Default()
	return NewAuditService(events, alerts, notifier, logger, pkglogger.NewAuditLogger(logger), time.Hour)
}
