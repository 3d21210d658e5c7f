package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwalcott3/vigil/internal/models"
)

// mockValidator implements SessionValidator for testing
type mockValidator struct {
	ValidateFunc func(ctx context.Context, token string) (*models.Session, *models.TokenClaims, error)
}

func (m *mockValidator) Validate(ctx context.Context, token string) (*models.Session, *models.TokenClaims, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, token)
	}
	return nil, nil, models.ErrUnauthorized
}

func validSession() (*models.Session, *models.TokenClaims) {
	sess := &models.Session{
		ID:        "session123",
		UserID:    "user123",
		Status:    models.SessionActive,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	claims := &models.TokenClaims{
		UserID:    "user123",
		Email:     "user@example.com",
		Role:      "student",
		SessionID: "session123",
	}
	return sess, claims
}

func TestMiddleware_ValidTokenInjectsContext(t *testing.T) {
	sess, claims := validSession()
	validator := &mockValidator{
		ValidateFunc: func(ctx context.Context, token string) (*models.Session, *models.TokenClaims, error) {
			assert.Equal(t, "good-token", token)
			return sess, claims, nil
		},
	}

	var gotClaims *models.TokenClaims
	var gotSession *models.Session
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r)
		gotSession = SessionFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "user123", gotClaims.UserID)
	require.NotNil(t, gotSession)
	assert.Equal(t, "session123", gotSession.ID)
}

func TestMiddleware_MissingHeaderRejected(t *testing.T) {
	handler := Middleware(&mockValidator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_MalformedHeaderRejected(t *testing.T) {
	handler := Middleware(&mockValidator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	for _, header := range []string{"good-token", "Basic abc123", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header=%q", header)
	}
}

func TestMiddleware_InvalidSessionRejected(t *testing.T) {
	validator := &mockValidator{
		ValidateFunc: func(ctx context.Context, token string) (*models.Session, *models.TokenClaims, error) {
			return nil, nil, models.ErrUnauthorized
		},
	}
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_MatchingRoleAllowed(t *testing.T) {
	_, claims := validSession()
	claims.Role = "admin"

	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(context.WithValue(req.Context(), ClaimsContextKey, claims))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole_WrongRoleForbidden(t *testing.T) {
	_, claims := validSession()

	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(context.WithValue(req.Context(), ClaimsContextKey, claims))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole_NoClaimsUnauthorized(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
