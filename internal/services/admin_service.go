package services

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/models"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

// LockoutAdminStore exposes the lockout mutations administrators need
type LockoutAdminStore interface {
	Delete(ctx context.Context, identity string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// AdminService performs administrative security operations: unlocking
// accounts and IPs, the emergency unlock-all, and maintenance mode.
// Every mutation lands in the audit trail with the acting admin.
type AdminService struct {
	lockouts    LockoutAdminStore
	counters    counter.Store
	rates       *RateLimitService
	audit       *AuditService
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger

	// emergencyCode gates the unlock-all operation. Empty disables it.
	emergencyCode string

	maintenance atomic.Bool
}

// NewAdminService creates a new AdminService
func NewAdminService(
	lockouts LockoutAdminStore,
	counters counter.Store,
	rates *RateLimitService,
	audit *AuditService,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
	emergencyCode string,
) *AdminService {
	return &AdminService{
		lockouts:      lockouts,
		counters:      counters,
		rates:         rates,
		audit:         audit,
		auditLogger:   auditLogger,
		logger:        logger,
		emergencyCode: emergencyCode,
	}
}

// UnlockAccount removes an identity's lockout and failure counter. Safe to
// call for identities that are not locked.
func (s *AdminService) UnlockAccount(ctx context.Context, adminID, identity, ip string) error {
	if err := s.counters.Reset(ctx, lockoutKeyPrefix+identity); err != nil {
		return err
	}
	if err := s.lockouts.Delete(ctx, identity); err != nil {
		return err
	}

	s.auditLogger.LogAdminAction("account_unlocked", adminID, ip, map[string]string{
		"identity": pkglogger.SanitizedEmail(identity),
	})
	s.audit.RecordEvent(ctx, models.EventAdminUnlock, identity, ip, models.AlertEvidence{
		"admin_id": adminID,
		"scope":    "account",
	})
	return nil
}

// UnlockIP clears the login rate counter for a source IP.
func (s *AdminService) UnlockIP(ctx context.Context, adminID, targetIP, ip string) error {
	if err := s.rates.Reset(ctx, ScenarioLoginIP, targetIP); err != nil {
		return err
	}

	s.auditLogger.LogAdminAction("ip_unlocked", adminID, ip, map[string]string{
		"target_ip": targetIP,
	})
	s.audit.RecordEvent(ctx, models.EventAdminUnlock, "", ip, models.AlertEvidence{
		"admin_id":  adminID,
		"scope":     "ip",
		"target_ip": targetIP,
	})
	return nil
}

// BulkUnlock unlocks a batch of identities, continuing past individual
// failures. Returns how many unlocked cleanly.
func (s *AdminService) BulkUnlock(ctx context.Context, adminID string, identities []string, ip string) (int, error) {
	unlocked := 0
	var lastErr error
	for _, identity := range identities {
		if err := s.UnlockAccount(ctx, adminID, identity, ip); err != nil {
			s.logger.Error("bulk unlock entry failed", slog.Any("error", err))
			lastErr = err
			continue
		}
		unlocked++
	}
	return unlocked, lastErr
}

// EmergencyUnlockAll removes every lockout and failure counter in the
// system. Requires the configured confirmation code; a mismatch or an
// unconfigured code is refused.
func (s *AdminService) EmergencyUnlockAll(ctx context.Context, adminID, code, ip string) (int64, error) {
	if s.emergencyCode == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.emergencyCode)) != 1 {
		s.auditLogger.LogAdminAction("emergency_unlock_refused", adminID, ip, nil)
		return 0, models.ErrForbidden
	}

	cleared, err := s.counters.ResetPrefix(ctx, lockoutKeyPrefix)
	if err != nil {
		return 0, err
	}

	removed, err := s.lockouts.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Warn("emergency unlock executed",
		slog.String("admin_id", adminID),
		slog.Int64("lockouts_removed", removed),
		slog.Int64("counters_cleared", cleared))
	s.auditLogger.LogAdminAction("emergency_unlock", adminID, ip, map[string]string{
		"lockouts_removed": strconv.FormatInt(removed, 10),
	})

	s.audit.RecordEvent(ctx, models.EventAdminUnlock, "", ip, models.AlertEvidence{
		"admin_id":         adminID,
		"scope":            "all",
		"lockouts_removed": removed,
	})

	return removed, nil
}

// SetMaintenance toggles maintenance mode. While active, only
// administrators may establish new sessions.
func (s *AdminService) SetMaintenance(ctx context.Context, adminID string, enabled bool, ip string) {
	s.maintenance.Store(enabled)

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	s.logger.Warn("maintenance mode "+state, slog.String("admin_id", adminID))
	s.auditLogger.LogAdminAction("maintenance_"+state, adminID, ip, nil)
}

// InMaintenance reports whether maintenance mode is active.
func (s *AdminService) InMaintenance() bool {
	return s.maintenance.Load()
}
