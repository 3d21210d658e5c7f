package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/services"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewContextSession builds an active session the middleware would have
// attached after validating the caller's token.
func NewContextSession(id, userID string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                id,
		UserID:            userID,
		Identity:          "user@example.com",
		DeviceFingerprint: "fp-test",
		DeviceTrust:       models.TrustKnown,
		IPAddress:         "203.0.113.10",
		RiskScore:         10,
		RiskLevel:         models.RiskLow,
		Status:            models.SessionActive,
		PolicyRole:        "student",
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
}

// WithAuthContext seeds the claims and session the auth middleware would
// have injected, for testing authenticated endpoints.
func WithAuthContext(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		SessionID: "session123",
	}
	ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, claims)
	ctx = context.WithValue(ctx, auth.SessionContextKey, NewContextSession("session123", userID))
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginService for testing
type MockLoginService struct {
	LoginFunc  func(ctx context.Context, in services.LoginInput) (*services.SessionResult, error)
	LogoutFunc func(ctx context.Context, sessionID string) error
	EnrollFunc func(ctx context.Context, userID, email string) (*auth.Enrollment, error)
}

func (m *MockLoginService) Login(ctx context.Context, in services.LoginInput) (*services.SessionResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockLoginService) Logout(ctx context.Context, sessionID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, sessionID)
}

func (m *MockLoginService) BeginStepUpEnrollment(ctx context.Context, userID, email string) (*auth.Enrollment, error) {
	if m.EnrollFunc == nil {
		return &auth.Enrollment{Secret: "TESTSECRET", QRDataURL: "data:image/png;base64,dGVzdA=="}, nil
	}
	return m.EnrollFunc(ctx, userID, email)
}

// MockAdminOps implements AdminOps for testing
type MockAdminOps struct {
	UnlockAccountFunc      func(ctx context.Context, adminID, identity, ip string) error
	UnlockIPFunc           func(ctx context.Context, adminID, targetIP, ip string) error
	BulkUnlockFunc         func(ctx context.Context, adminID string, identities []string, ip string) (int, error)
	EmergencyUnlockAllFunc func(ctx context.Context, adminID, code, ip string) (int64, error)
	SetMaintenanceFunc     func(ctx context.Context, adminID string, enabled bool, ip string)
	InMaintenanceFunc      func() bool

	maintenance bool
}

func (m *MockAdminOps) UnlockAccount(ctx context.Context, adminID, identity, ip string) error {
	if m.UnlockAccountFunc == nil {
		return nil
	}
	return m.UnlockAccountFunc(ctx, adminID, identity, ip)
}

func (m *MockAdminOps) UnlockIP(ctx context.Context, adminID, targetIP, ip string) error {
	if m.UnlockIPFunc == nil {
		return nil
	}
	return m.UnlockIPFunc(ctx, adminID, targetIP, ip)
}

func (m *MockAdminOps) BulkUnlock(ctx context.Context, adminID string, identities []string, ip string) (int, error) {
	if m.BulkUnlockFunc == nil {
		return len(identities), nil
	}
	return m.BulkUnlockFunc(ctx, adminID, identities, ip)
}

func (m *MockAdminOps) EmergencyUnlockAll(ctx context.Context, adminID, code, ip string) (int64, error) {
	if m.EmergencyUnlockAllFunc == nil {
		return 0, models.ErrForbidden
	}
	return m.EmergencyUnlockAllFunc(ctx, adminID, code, ip)
}

func (m *MockAdminOps) SetMaintenance(ctx context.Context, adminID string, enabled bool, ip string) {
	if m.SetMaintenanceFunc != nil {
		m.SetMaintenanceFunc(ctx, adminID, enabled, ip)
		return
	}
	m.maintenance = enabled
}

func (m *MockAdminOps) InMaintenance() bool {
	if m.InMaintenanceFunc != nil {
		return m.InMaintenanceFunc()
	}
	return m.maintenance
}

// MockSessionManager implements SessionManager for testing
type MockSessionManager struct {
	ListSessionsFunc func(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	TerminateFunc    func(ctx context.Context, sessionID, reason string) error
	TerminateAllFunc func(ctx context.Context, userID, reason string) (int64, error)
}

func (m *MockSessionManager) ListSessions(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	if m.ListSessionsFunc == nil {
		return nil, nil
	}
	return m.ListSessionsFunc(ctx, userID, limit)
}

func (m *MockSessionManager) Terminate(ctx context.Context, sessionID, reason string) error {
	if m.TerminateFunc == nil {
		return nil
	}
	return m.TerminateFunc(ctx, sessionID, reason)
}

func (m *MockSessionManager) TerminateAll(ctx context.Context, userID, reason string) (int64, error) {
	if m.TerminateAllFunc == nil {
		return 0, nil
	}
	return m.TerminateAllFunc(ctx, userID, reason)
}

// MockSessionLookup implements SessionLookup for testing
type MockSessionLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Session, error)
}

func (m *MockSessionLookup) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByIDFunc(ctx, id)
}

// MockSecurityMonitor implements SecurityMonitor for testing
type MockSecurityMonitor struct {
	DashboardFunc     func(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error)
	ActiveThreatsFunc func(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
}

func (m *MockSecurityMonitor) Dashboard(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error) {
	if m.DashboardFunc == nil {
		return &services.DashboardMetrics{GeneratedAt: time.Now()}, nil
	}
	return m.DashboardFunc(ctx, window)
}

func (m *MockSecurityMonitor) ActiveThreats(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if m.ActiveThreatsFunc == nil {
		return nil, nil
	}
	return m.ActiveThreatsFunc(ctx, limit)
}
