package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/risk"
	"github.com/mwalcott3/vigil/internal/services"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// LoginService defines the interface for the login flow
type LoginService interface {
	Login(ctx context.Context, in services.LoginInput) (*services.SessionResult, error)
	Logout(ctx context.Context, sessionID string) error
	BeginStepUpEnrollment(ctx context.Context, userID, email string) (*auth.Enrollment, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  LoginService
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginService, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email             string  `json:"email" validate:"required,email"`
	Password          string  `json:"password" validate:"required"`
	DeviceFingerprint string  `json:"device_fingerprint" validate:"required,max=256"`
	StepUpCode        string  `json:"step_up_code,omitempty" validate:"omitempty,len=6"`
	Country           string  `json:"country,omitempty" validate:"omitempty,max=64"`
	City              string  `json:"city,omitempty" validate:"omitempty,max=128"`
	Latitude          float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude         float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// SessionResponse represents a session in HTTP responses
type SessionResponse struct {
	ID             string `json:"id"`
	DeviceTrust    string `json:"device_trust"`
	IPAddress      string `json:"ip_address"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
	RiskScore      int    `json:"risk_score"`
	RiskLevel      string `json:"risk_level"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	ExpiresAt      string `json:"expires_at"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Token   string           `json:"token"`
	Session *SessionResponse `json:"session"`
}

func toSessionResponse(s *models.Session) *SessionResponse {
	return &SessionResponse{
		ID:             s.ID,
		DeviceTrust:    string(s.DeviceTrust),
		IPAddress:      s.IPAddress,
		Country:        s.Country,
		City:           s.City,
		RiskScore:      s.RiskScore,
		RiskLevel:      s.RiskLevel,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: s.LastActivityAt.UTC().Format(time.RFC3339),
		ExpiresAt:      s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var location *risk.Location
	if req.Country != "" {
		location = &risk.Location{
			Country:   req.Country,
			City:      req.City,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		}
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:             req.Email,
		Password:          req.Password,
		StepUpCode:        req.StepUpCode,
		IPAddress:         pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:         r.Header.Get("User-Agent"),
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          location,
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LoginResponse{
		Token:   result.Token,
		Session: toSessionResponse(result.Session),
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var lockErr *models.AccountLockedError
	var rateErr *models.RateLimitedError
	var riskErr *models.RiskBlockedError
	var trustErr *models.InsufficientTrustError

	switch {
	case errors.As(err, &lockErr):
		pkghttp.WriteLocked(w, "Account temporarily locked. Please try again later.", lockErr.RetryAfter())
	case errors.As(err, &rateErr):
		pkghttp.WriteTooManyRequestsAfter(w, "Too many requests. Please try again later.", rateErr.RetryAfter())
	case errors.As(err, &riskErr):
		pkghttp.WriteForbidden(w, "Login blocked by security policy")
	case errors.As(err, &trustErr):
		pkghttp.WriteForbidden(w, "This device is not trusted for your role")
	case errors.Is(err, models.ErrStepUpRequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "step_up_required", "Additional verification required")
	case errors.Is(err, models.ErrMaintenanceMode):
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "maintenance", "Logins are temporarily suspended")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Request blocked")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Logout terminates the calling session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), sess.ID); err != nil {
		pkghttp.WriteInternalError(w, "Failed to log out")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EnrollmentResponse carries the step-up enrollment material
type EnrollmentResponse struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

// EnrollStepUp issues the calling user a TOTP secret for step-up
// verification. Enrolling again replaces the previous secret.
func (h *AuthHandler) EnrollStepUp(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.BeginStepUpEnrollment(r.Context(), claims.UserID, claims.Email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Enrollment failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(EnrollmentResponse{
		Secret: enrollment.Secret,
		QRCode: enrollment.QRDataURL,
	})
}

// Verify reports the calling session's state. Reaching this handler at all
// means the token passed server-side validation.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r)
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(toSessionResponse(sess))
}
