package services

import (
	"context"
	"time"

	"github.com/mwalcott3/vigil/internal/models"
	"github.com/mwalcott3/vigil/internal/repositories"
)

// RepoHistory adapts the persistence layer to the read-only history view
// the risk engine consumes.
type RepoHistory struct {
	sessions *repositories.SessionRepository
	devices  *repositories.DeviceRepository
	attempts *repositories.LoginAttemptRepository
	events   *repositories.EventRepository
	users    *repositories.UserRepository
}

// NewRepoHistory creates a new RepoHistory
func NewRepoHistory(
	sessions *repositories.SessionRepository,
	devices *repositories.DeviceRepository,
	attempts *repositories.LoginAttemptRepository,
	events *repositories.EventRepository,
	users *repositories.UserRepository,
) *RepoHistory {
	return &RepoHistory{
		sessions: sessions,
		devices:  devices,
		attempts: attempts,
		events:   events,
		users:    users,
	}
}

// identityOf resolves a user id to the login identity attempt rows are
// keyed by.
func (h *RepoHistory) identityOf(ctx context.Context, userID string) (string, error) {
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (h *RepoHistory) RecentSessions(ctx context.Context, userID string, limit int) ([]*models.Session, error) {
	return h.sessions.RecentByUser(ctx, userID, limit)
}

func (h *RepoHistory) SessionCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return h.sessions.CountByUserSince(ctx, userID, since)
}

func (h *RepoHistory) DistinctIPsSince(ctx context.Context, userID string, since time.Time) ([]string, error) {
	identity, err := h.identityOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h.attempts.DistinctIPsByIdentity(ctx, identity, since)
}

func (h *RepoHistory) Device(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	return h.devices.Get(ctx, userID, fingerprint)
}

func (h *RepoHistory) DeviceCount(ctx context.Context, userID string) (int, error) {
	return h.devices.CountForUser(ctx, userID)
}

func (h *RepoHistory) LoginHourHistogram(ctx context.Context, userID string, since time.Time) (map[int]int, error) {
	identity, err := h.identityOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h.attempts.SuccessHourHistogram(ctx, identity, since)
}

func (h *RepoHistory) OperationCountSince(ctx context.Context, userID, operation string, since time.Time) (int, error) {
	return h.events.CountByKindSince(ctx, operation, userID, since)
}
