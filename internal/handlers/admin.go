package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// AdminOps defines the administrative security operations
type AdminOps interface {
	UnlockAccount(ctx context.Context, adminID, identity, ip string) error
	UnlockIP(ctx context.Context, adminID, targetIP, ip string) error
	BulkUnlock(ctx context.Context, adminID string, identities []string, ip string) (int, error)
	EmergencyUnlockAll(ctx context.Context, adminID, code, ip string) (int64, error)
	SetMaintenance(ctx context.Context, adminID string, enabled bool, ip string)
	InMaintenance() bool
}

// AdminHandler handles administrative security HTTP requests
type AdminHandler struct {
	admin    AdminOps
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(admin AdminOps, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		ipConfig: ipConfig,
	}
}

// UnlockRequest represents an account unlock request
type UnlockRequest struct {
	Identity string `json:"identity" validate:"required,email"`
}

// UnlockIPRequest represents an IP unlock request
type UnlockIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// BulkUnlockRequest represents a batch unlock request
type BulkUnlockRequest struct {
	Identities []string `json:"identities" validate:"required,min=1,max=100,dive,email"`
}

// EmergencyUnlockRequest represents the unlock-all request
type EmergencyUnlockRequest struct {
	ConfirmationCode string `json:"confirmation_code" validate:"required"`
}

// MaintenanceRequest toggles maintenance mode
type MaintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// UnlockAccount removes one identity's lockout state
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.admin.UnlockAccount(r.Context(), claims.UserID, req.Identity, ip); err != nil {
		pkghttp.WriteInternalError(w, "Failed to unlock account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnlockIP clears rate state for a source IP
func (h *AdminHandler) UnlockIP(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	var req UnlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.admin.UnlockIP(r.Context(), claims.UserID, req.IPAddress, ip); err != nil {
		pkghttp.WriteInternalError(w, "Failed to unlock IP")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BulkUnlock removes lockout state for a batch of identities
func (h *AdminHandler) BulkUnlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	var req BulkUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	unlocked, err := h.admin.BulkUnlock(r.Context(), claims.UserID, req.Identities, ip)
	if err != nil && unlocked == 0 {
		pkghttp.WriteInternalError(w, "Failed to unlock accounts")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{"unlocked": unlocked})
}

// EmergencyUnlock removes every lockout in the system
func (h *AdminHandler) EmergencyUnlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	var req EmergencyUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	removed, err := h.admin.EmergencyUnlockAll(r.Context(), claims.UserID, req.ConfirmationCode, ip)
	if err != nil {
		if errors.Is(err, models.ErrForbidden) {
			pkghttp.WriteForbidden(w, "Invalid confirmation code")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to perform emergency unlock")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int64{"unlocked": removed})
}

// Maintenance toggles maintenance mode
func (h *AdminHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	var req MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	h.admin.SetMaintenance(r.Context(), claims.UserID, req.Enabled, ip)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"maintenance": h.admin.InMaintenance()})
}
