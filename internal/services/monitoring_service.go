package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/repositories"
)

// Detection tuning for the monitoring sweeps.
const (
	bruteForceIPThreshold  = 10 // failures from one IP within the window
	suspiciousRiskFloor    = 60 // active-session risk score a location cluster must reach
	suspiciousClusterSize  = 3  // sessions per location before it counts as a cluster
	dashboardDefaultWindow = 24 * time.Hour
)

// AttemptAnalytics exposes the failure aggregations the detectors scan
type AttemptAnalytics interface {
	GroupFailuresByIP(ctx context.Context, since time.Time, threshold int) ([]repositories.IPFailureCluster, error)
}

// SessionAnalytics exposes session aggregations for the dashboard and detectors
type SessionAnalytics interface {
	RiskBucketCounts(ctx context.Context, since time.Time) (map[string]int64, error)
	HighRiskLocationClusters(ctx context.Context, riskFloor, minCluster int) ([]repositories.LocationCluster, error)
	TopLocations(ctx context.Context, since time.Time, limit int) ([]repositories.LocationCluster, error)
}

// AlertAnalytics exposes alert reads for the dashboard
type AlertAnalytics interface {
	Active(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
	CountsByType(ctx context.Context, since time.Time) (map[string]int64, error)
	ActiveCount(ctx context.Context) (int64, error)
}

// LockoutAnalytics exposes lockout counts for the dashboard
type LockoutAnalytics interface {
	ActiveCount(ctx context.Context) (int64, error)
}

// EventAnalytics exposes event-log aggregations for the dashboard
type EventAnalytics interface {
	KindCountsSince(ctx context.Context, since time.Time) (map[string]int64, error)
}

// DeviceAnalytics exposes device trust aggregations for the dashboard
type DeviceAnalytics interface {
	TrustDistribution(ctx context.Context) (map[models.TrustLevel]int64, error)
}

// MonitoringService runs the threat detectors and assembles the security
// dashboard. Detectors raise alerts through the audit service, which
// handles deduplication and operator notification.
type MonitoringService struct {
	attempts AttemptAnalytics
	sessions SessionAnalytics
	alerts   AlertAnalytics
	lockouts LockoutAnalytics
	events   EventAnalytics
	devices  DeviceAnalytics
	audit    *AuditService
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitoringService creates a new MonitoringService
func NewMonitoringService(
	attempts AttemptAnalytics,
	sessions SessionAnalytics,
	alerts AlertAnalytics,
	lockouts LockoutAnalytics,
	events EventAnalytics,
	devices DeviceAnalytics,
	audit *AuditService,
	logger *slog.Logger,
) *MonitoringService {
	return &MonitoringService{
		attempts: attempts,
		sessions: sessions,
		alerts:   alerts,
		lockouts: lockouts,
		events:   events,
		devices:  devices,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// DashboardMetrics is the aggregated security posture view.
type DashboardMetrics struct {
	Window         time.Duration                  `json:"-"`
	GeneratedAt    time.Time                      `json:"generated_at"`
	ActiveAlerts   int64                          `json:"active_alerts"`
	ActiveLockouts int64                          `json:"active_lockouts"`
	EventCounts    map[string]int64               `json:"event_counts"`
	AlertsByType   map[string]int64               `json:"alerts_by_type"`
	SessionsByRisk map[string]int64               `json:"sessions_by_risk"`
	DeviceTrust    map[models.TrustLevel]int64    `json:"device_trust"`
	TopLocations   []repositories.LocationCluster `json:"top_locations"`
}

// Dashboard assembles the metrics view over the given window. A zero window
// defaults to the last 24 hours.
func (m *MonitoringService) Dashboard(ctx context.Context, window time.Duration) (*DashboardMetrics, error) {
	if window <= 0 {
		window = dashboardDefaultWindow
	}
	since := m.now().Add(-window)

	metrics := &DashboardMetrics{
		Window:      window,
		GeneratedAt: m.now(),
	}

	var err error
	if metrics.ActiveAlerts, err = m.alerts.ActiveCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count active alerts: %w", err)
	}
	if metrics.ActiveLockouts, err = m.lockouts.ActiveCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count active lockouts: %w", err)
	}
	if metrics.EventCounts, err = m.events.KindCountsSince(ctx, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	if metrics.AlertsByType, err = m.alerts.CountsByType(ctx, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts: %w", err)
	}
	if metrics.SessionsByRisk, err = m.sessions.RiskBucketCounts(ctx, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate session risk: %w", err)
	}
	if metrics.DeviceTrust, err = m.devices.TrustDistribution(ctx); err != nil {
		return nil, fmt.Errorf("failed to aggregate device trust: %w", err)
	}
	if metrics.TopLocations, err = m.sessions.TopLocations(ctx, since, 10); err != nil {
		return nil, fmt.Errorf("failed to aggregate locations: %w", err)
	}

	return metrics, nil
}

// ActiveThreats returns the open alerts, newest first.
func (m *MonitoringService) ActiveThreats(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.alerts.Active(ctx, limit)
}

// DetectBruteForce sweeps the attempt log for source IPs with failure
// volume above the threshold and raises one alert per offending IP.
func (m *MonitoringService) DetectBruteForce(ctx context.Context, window time.Duration) (int, error) {
	clusters, err := m.attempts.GroupFailuresByIP(ctx, m.now().Add(-window), bruteForceIPThreshold)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for brute force: %w", err)
	}

	raised := 0
	for _, cluster := range clusters {
		ip := cluster.IPAddress
		alert := m.audit.RaiseAlert(ctx, &models.SecurityAlert{
			Type:        models.AlertBruteForce,
			Severity:    models.AlertSeverityHigh,
			Description: fmt.Sprintf("%d failed login attempts from %s within %s", cluster.Count, ip, window),
			Identity:    &ip,
			Evidence: models.AlertEvidence{
				"ip_address":    ip,
				"failure_count": cluster.Count,
				"window":        window.String(),
			},
		})
		if alert != nil {
			raised++
		}
	}

	return raised, nil
}

// DetectSuspiciousLocations raises alerts for locations accumulating
// clusters of high-risk active sessions.
func (m *MonitoringService) DetectSuspiciousLocations(ctx context.Context) (int, error) {
	clusters, err := m.sessions.HighRiskLocationClusters(ctx, suspiciousRiskFloor, suspiciousClusterSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan session locations: %w", err)
	}

	raised := 0
	for _, cluster := range clusters {
		location := cluster.City + ", " + cluster.Country
		alert := m.audit.RaiseAlert(ctx, &models.SecurityAlert{
			Type:        models.AlertSuspiciousLocation,
			Severity:    models.AlertSeverityMedium,
			Description: fmt.Sprintf("%d high-risk sessions active from %s", cluster.SessionCount, location),
			Identity:    &location,
			RiskScore:   cluster.MaxRiskScore,
			Evidence: models.AlertEvidence{
				"country":       cluster.Country,
				"city":          cluster.City,
				"session_count": cluster.SessionCount,
			},
		})
		if alert != nil {
			raised++
		}
	}

	return raised, nil
}
