package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/models"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

// EventLog appends rows to the bounded security event log
type EventLog interface {
	Append(ctx context.Context, e *models.SecurityEvent) error
}

// AlertStore defines alert persistence for raising and deduplicating alerts
type AlertStore interface {
	Create(ctx context.Context, a *models.SecurityAlert) (*models.SecurityAlert, error)
	ActiveByTypeIdentity(ctx context.Context, alertType, identity string) (*models.SecurityAlert, error)
	Touch(ctx context.Context, id string) error
}

// AlertNotifier delivers alerts to operators out of band
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error
}

// AuditService dual-writes the security trail: structured log lines for
// operators and durable event rows for the monitoring aggregators. Audit
// failures are logged and swallowed; the audit path must never take down
// the operation it is recording.
type AuditService struct {
	events      EventLog
	alerts      AlertStore
	notifier    AlertNotifier // nil when email delivery is disabled
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	eventTTL    time.Duration
	now         func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(events EventLog, alerts AlertStore, notifier AlertNotifier, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, eventTTL time.Duration) *AuditService {
	return &AuditService{
		events:      events,
		alerts:      alerts,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
		eventTTL:    eventTTL,
		now:         time.Now,
	}
}

// RecordEvent writes one event to the log line stream and the event table.
func (s *AuditService) RecordEvent(ctx context.Context, kind, identity, ip string, metadata models.AlertEvidence) {
	s.auditLogger.LogSecurityDecision(pkglogger.AuditEvent{
		EventType: kind,
		Identity:  identity,
		IPAddress: ip,
		Success:   true,
	})

	now := s.now()
	err := s.events.Append(ctx, &models.SecurityEvent{
		Kind:      kind,
		Identity:  identity,
		IPAddress: ip,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(s.eventTTL),
	})
	if err != nil {
		s.logger.Error("failed to append security event",
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

// RaiseAlert creates or refreshes an alert. A still-active alert of the same
// type for the same identity is touched instead of duplicated. New alerts go
// out to the notifier when one is configured.
func (s *AuditService) RaiseAlert(ctx context.Context, alert *models.SecurityAlert) *models.SecurityAlert {
	identity := ""
	if alert.Identity != nil {
		identity = *alert.Identity
	}

	existing, err := s.alerts.ActiveByTypeIdentity(ctx, alert.Type, identity)
	if err != nil {
		s.logger.Error("failed to check for existing alert",
			slog.String("type", alert.Type),
			slog.Any("error", err))
		return nil
	}
	if existing != nil {
		if err := s.alerts.Touch(ctx, existing.ID); err != nil {
			s.logger.Error("failed to refresh alert", slog.String("alert_id", existing.ID), slog.Any("error", err))
		}
		return existing
	}

	created, err := s.alerts.Create(ctx, alert)
	if err != nil {
		s.logger.Error("failed to create alert",
			slog.String("type", alert.Type),
			slog.Any("error", err))
		return nil
	}

	s.logger.Warn("security alert raised",
		slog.String("alert_id", created.ID),
		slog.String("type", created.Type),
		slog.String("severity", created.Severity))

	if s.notifier != nil && (created.Severity == models.AlertSeverityHigh || created.Severity == models.AlertSeverityCritical) {
		if err := s.notifier.NotifyAlert(ctx, created); err != nil {
			s.logger.Error("alert notification failed", slog.String("alert_id", created.ID), slog.Any("error", err))
		}
	}

	return created
}
