package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/services"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// SecurityMonitor defines the monitoring views the handler exposes
type SecurityMonitor interface {
	Dashboard(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error)
	ActiveThreats(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
}

// SecurityHandler serves the security monitoring endpoints
type SecurityHandler struct {
	monitor SecurityMonitor
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(monitor SecurityMonitor) *SecurityHandler {
	return &SecurityHandler{monitor: monitor}
}

// AlertResponse represents an alert in HTTP responses
type AlertResponse struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Severity    string               `json:"severity"`
	Status      string               `json:"status"`
	Description string               `json:"description"`
	Identity    *string              `json:"identity,omitempty"`
	RiskScore   int                  `json:"risk_score"`
	Evidence    models.AlertEvidence `json:"evidence,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

// Dashboard returns the aggregated security posture view
func (h *SecurityHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > 30*24*time.Hour {
			pkghttp.WriteBadRequest(w, "invalid window")
			return
		}
		window = parsed
	}

	metrics, err := h.monitor.Dashboard(r.Context(), window)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to build dashboard")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(metrics)
}

// Threats returns the currently open security alerts
func (h *SecurityHandler) Threats(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.monitor.ActiveThreats(r.Context(), 50)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list threats")
		return
	}

	out := make([]*AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, &AlertResponse{
			ID:          a.ID,
			Type:        a.Type,
			Severity:    a.Severity,
			Status:      a.Status,
			Description: a.Description,
			Identity:    a.Identity,
			RiskScore:   a.RiskScore,
			Evidence:    a.Evidence,
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"threats": out})
}
