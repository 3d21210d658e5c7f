// Package background runs the periodic mitigation scheduler.
package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/repositories"
	"github.com/mwalcott3/vigil/internal/risk"
	"github.com/mwalcott3/vigil/internal/services"
)

// ipReputationFailureFloor is the windowed failure count at which a source
// IP gets flagged into the threat intel set.
const ipReputationFailureFloor = 25

// ThreatScanner runs the aggregate threat detections over recorded state.
// Satisfied by services.MonitoringService.
type ThreatScanner interface {
	DetectBruteForce(ctx context.Context, window time.Duration) (int, error)
	DetectSuspiciousLocations(ctx context.Context) (int, error)
}

// MitigationManager periodically runs the automated mitigation actions:
// resolving stale alerts, terminating critical-risk sessions, updating IP
// reputation, and pruning expired security state. Each action is fault
// isolated; one failing never stops the others.
type MitigationManager struct {
	alerts      *repositories.AlertRepository
	sessions    *repositories.SessionRepository
	attempts    *repositories.LoginAttemptRepository
	lockouts    *repositories.LockoutRepository
	events      *repositories.EventRepository
	counters    counter.Store
	intel       *risk.StaticIntel
	audit       *services.AuditService
	scanner     ThreatScanner
	logger      *slog.Logger
	interval    time.Duration
	alertMaxAge time.Duration
	riskCutoff  int
	stopCh      chan struct{}
}

// NewMitigationManager creates a new mitigation manager
func NewMitigationManager(
	alerts *repositories.AlertRepository,
	sessions *repositories.SessionRepository,
	attempts *repositories.LoginAttemptRepository,
	lockouts *repositories.LockoutRepository,
	events *repositories.EventRepository,
	counters counter.Store,
	intel *risk.StaticIntel,
	audit *services.AuditService,
	scanner ThreatScanner,
	logger *slog.Logger,
	interval time.Duration,
	alertMaxAge time.Duration,
	riskCutoff int,
) *MitigationManager {
	return &MitigationManager{
		alerts:      alerts,
		sessions:    sessions,
		attempts:    attempts,
		lockouts:    lockouts,
		events:      events,
		counters:    counters,
		intel:       intel,
		audit:       audit,
		scanner:     scanner,
		logger:      logger,
		interval:    interval,
		alertMaxAge: alertMaxAge,
		riskCutoff:  riskCutoff,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic mitigation task
func (mm *MitigationManager) Start(ctx context.Context) {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	mm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			mm.RunOnce(ctx)
		case <-mm.stopCh:
			mm.logger.Info("mitigation manager stopped")
			return
		case <-ctx.Done():
			mm.logger.Info("mitigation manager context cancelled")
			return
		}
	}
}

// RunOnce executes one mitigation sweep. Start calls it on every tick;
// it is also the direct entry point for one-shot invocations.
func (mm *MitigationManager) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	mm.resolveStaleAlerts(runCtx)
	mm.terminateCriticalSessions(runCtx)
	mm.terminateExpiredSessions(runCtx)
	mm.scanThreats(runCtx)
	mm.updateIPReputation(runCtx)
	mm.pruneExpiredState(runCtx)

	mm.audit.RecordEvent(runCtx, models.EventMitigationRun, "", "", nil)
}

// resolveStaleAlerts auto-resolves alerts with no activity past the
// retention window.
func (mm *MitigationManager) resolveStaleAlerts(ctx context.Context) {
	resolved, err := mm.alerts.ResolveStale(ctx, time.Now().Add(-mm.alertMaxAge))
	if err != nil {
		mm.logger.Error("failed to resolve stale alerts", slog.Any("error", err))
		return
	}
	if resolved > 0 {
		mm.logger.Info("auto-resolved stale alerts", slog.Int64("count", resolved))
	}
}

// terminateCriticalSessions ends active sessions at or above the critical
// risk cutoff.
func (mm *MitigationManager) terminateCriticalSessions(ctx context.Context) {
	sessions, err := mm.sessions.ActiveAboveRisk(ctx, mm.riskCutoff)
	if err != nil {
		mm.logger.Error("failed to list critical-risk sessions", slog.Any("error", err))
		return
	}

	terminated := 0
	for _, sess := range sessions {
		if err := mm.sessions.Terminate(ctx, sess.ID, models.TerminationHighRisk); err != nil {
			mm.logger.Error("failed to terminate high-risk session",
				slog.String("session_id", sess.ID),
				slog.Any("error", err))
			continue
		}
		terminated++

		mm.audit.RecordEvent(ctx, models.EventSessionTerminated, sess.Identity, sess.IPAddress, models.AlertEvidence{
			"session_id": sess.ID,
			"reason":     models.TerminationHighRisk,
			"risk_score": sess.RiskScore,
		})
		mm.audit.RaiseAlert(ctx, &models.SecurityAlert{
			Type:        models.AlertHighRiskSession,
			Severity:    models.AlertSeverityCritical,
			Description: "session auto-terminated for critical risk score",
			Identity:    &sess.Identity,
			RiskScore:   sess.RiskScore,
			Evidence: models.AlertEvidence{
				"session_id": sess.ID,
				"ip_address": sess.IPAddress,
			},
		})
	}

	if terminated > 0 {
		mm.logger.Warn("terminated critical-risk sessions", slog.Int("count", terminated))
	}
}

// terminateExpiredSessions closes expired sessions whose tokens stopped
// being presented, so they never came back through validation.
func (mm *MitigationManager) terminateExpiredSessions(ctx context.Context) {
	terminated, err := mm.sessions.TerminateExpired(ctx)
	if err != nil {
		mm.logger.Error("failed to terminate expired sessions", slog.Any("error", err))
		return
	}
	if terminated > 0 {
		mm.logger.Info("terminated expired sessions", slog.Int64("count", terminated))
	}
}

// scanThreats runs the aggregate detections on the mitigation cadence.
func (mm *MitigationManager) scanThreats(ctx context.Context) {
	if raised, err := mm.scanner.DetectBruteForce(ctx, mm.interval); err != nil {
		mm.logger.Error("brute force scan failed", slog.Any("error", err))
	} else if raised > 0 {
		mm.logger.Warn("brute force scan raised alerts", slog.Int("count", raised))
	}

	if raised, err := mm.scanner.DetectSuspiciousLocations(ctx); err != nil {
		mm.logger.Error("suspicious location scan failed", slog.Any("error", err))
	} else if raised > 0 {
		mm.logger.Warn("suspicious location scan raised alerts", slog.Int("count", raised))
	}
}

// updateIPReputation flags source IPs with extreme failure volume into the
// threat intel set so the ip-block layer starts rejecting them outright.
func (mm *MitigationManager) updateIPReputation(ctx context.Context) {
	clusters, err := mm.attempts.GroupFailuresByIP(ctx, time.Now().Add(-mm.interval), ipReputationFailureFloor)
	if err != nil {
		mm.logger.Error("failed to scan for reputation updates", slog.Any("error", err))
		return
	}

	for _, cluster := range clusters {
		mm.intel.Flag(cluster.IPAddress, "mitigation-sweep")
		mm.logger.Warn("flagged ip for failure volume",
			slog.String("ip_address", cluster.IPAddress),
			slog.Int("failures", cluster.Count))
	}
}

// pruneExpiredState drops attempts, lockouts, events, and counters past
// their windows.
func (mm *MitigationManager) pruneExpiredState(ctx context.Context) {
	if n, err := mm.attempts.DeleteExpired(ctx); err != nil {
		mm.logger.Error("failed to prune login attempts", slog.Any("error", err))
	} else if n > 0 {
		mm.logger.Info("pruned expired login attempts", slog.Int64("count", n))
	}

	if n, err := mm.lockouts.DeleteExpired(ctx); err != nil {
		mm.logger.Error("failed to prune lockouts", slog.Any("error", err))
	} else if n > 0 {
		mm.logger.Info("pruned expired lockouts", slog.Int64("count", n))
	}

	if n, err := mm.events.DeleteExpired(ctx); err != nil {
		mm.logger.Error("failed to prune security events", slog.Any("error", err))
	} else if n > 0 {
		mm.logger.Info("pruned expired security events", slog.Int64("count", n))
	}

	if n, err := mm.counters.Prune(ctx, time.Now()); err != nil {
		mm.logger.Error("failed to prune counters", slog.Any("error", err))
	} else if n > 0 {
		mm.logger.Info("pruned elapsed counters", slog.Int64("count", n))
	}
}

// Stop signals the mitigation manager to stop
func (mm *MitigationManager) Stop() {
	close(mm.stopCh)
}
