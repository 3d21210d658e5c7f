package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mwalcott3/vigil/internal/handlers"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestDashboard_DefaultWindow(t *testing.T) {
	var gotWindow time.Duration
	mock := &handlers.MockSecurityMonitor{
		DashboardFunc: func(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error) {
			gotWindow = window
			return &services.DashboardMetrics{
				GeneratedAt:    time.Now(),
				ActiveAlerts:   2,
				ActiveLockouts: 5,
			}, nil
		},
	}

	handler := handlers.NewSecurityHandler(mock)
	req := handlers.NewTestRequest(t, "GET", "/admin/security/dashboard", nil)

	w := httptest.NewRecorder()
	handler.Dashboard(w, req)

	var resp services.DashboardMetrics
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 24*time.Hour, gotWindow)
	assert.Equal(t, int64(2), resp.ActiveAlerts)
	assert.Equal(t, int64(5), resp.ActiveLockouts)
}

func TestDashboard_CustomWindow(t *testing.T) {
	var gotWindow time.Duration
	mock := &handlers.MockSecurityMonitor{
		DashboardFunc: func(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error) {
			gotWindow = window
			return &services.DashboardMetrics{GeneratedAt: time.Now()}, nil
		},
	}

	handler := handlers.NewSecurityHandler(mock)
	req := handlers.NewTestRequest(t, "GET", "/admin/security/dashboard?window=1h", nil)

	w := httptest.NewRecorder()
	handler.Dashboard(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, time.Hour, gotWindow)
}

func TestDashboard_InvalidWindow(t *testing.T) {
	handler := handlers.NewSecurityHandler(&handlers.MockSecurityMonitor{})

	for _, raw := range []string{"soon", "-2h", "0s", "800h"} {
		t.Run(raw, func(t *testing.T) {
			req := handlers.NewTestRequest(t, "GET", "/admin/security/dashboard?window="+raw, nil)
			w := httptest.NewRecorder()
			handler.Dashboard(w, req)

			handlers.AssertErrorResponse(t, w, 400, "bad_request")
		})
	}
}

func TestDashboard_AggregationFailure(t *testing.T) {
	mock := &handlers.MockSecurityMonitor{
		DashboardFunc: func(ctx context.Context, window time.Duration) (*services.DashboardMetrics, error) {
			return nil, errors.New("store down")
		},
	}

	handler := handlers.NewSecurityHandler(mock)
	req := handlers.NewTestRequest(t, "GET", "/admin/security/dashboard", nil)

	w := httptest.NewRecorder()
	handler.Dashboard(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}

func TestThreats_ReturnsOpenAlerts(t *testing.T) {
	identity := "victim@example.com"
	now := time.Now()
	mock := &handlers.MockSecurityMonitor{
		ActiveThreatsFunc: func(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
			assert.Equal(t, 50, limit)
			return []*models.SecurityAlert{
				{
					ID:          "alert-1",
					Type:        models.AlertBruteForce,
					Severity:    models.AlertSeverityHigh,
					Status:      models.AlertActive,
					Description: "Brute force attack detected from 203.0.113.7",
					Identity:    &identity,
					RiskScore:   85,
					Evidence:    models.AlertEvidence{"failure_count": float64(23)},
					CreatedAt:   now,
					UpdatedAt:   now,
				},
			}, nil
		},
	}

	handler := handlers.NewSecurityHandler(mock)
	req := handlers.NewTestRequest(t, "GET", "/admin/security/threats", nil)

	w := httptest.NewRecorder()
	handler.Threats(w, req)

	var resp struct {
		Threats []*handlers.AlertResponse `json:"threats"`
	}
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Len(t, resp.Threats, 1)
	assert.Equal(t, "alert-1", resp.Threats[0].ID)
	assert.Equal(t, models.AlertSeverityHigh, resp.Threats[0].Severity)
	if assert.NotNil(t, resp.Threats[0].Identity) {
		assert.Equal(t, identity, *resp.Threats[0].Identity)
	}
}

func TestThreats_EmptyListNotNull(t *testing.T) {
	handler := handlers.NewSecurityHandler(&handlers.MockSecurityMonitor{})
	req := handlers.NewTestRequest(t, "GET", "/admin/security/threats", nil)

	w := httptest.NewRecorder()
	handler.Threats(w, req)

	var resp map[string]any
	handlers.AssertJSONResponse(t, w, 200, &resp)
	threats, ok := resp["threats"].([]any)
	assert.True(t, ok, "threats should encode as an array even when empty")
	assert.Empty(t, threats)
}

func TestThreats_ServiceFailure(t *testing.T) {
	mock := &handlers.MockSecurityMonitor{
		ActiveThreatsFunc: func(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
			return nil, errors.New("store down")
		},
	}

	handler := handlers.NewSecurityHandler(mock)
	req := handlers.NewTestRequest(t, "GET", "/admin/security/threats", nil)

	w := httptest.NewRecorder()
	handler.Threats(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}
