package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/models"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// SessionManager defines the session operations the handler exposes
type SessionManager interface {
	ListSessions(ctx context.Context, userID string, limit int) ([]*models.Session, error)
	Terminate(ctx context.Context, sessionID, reason string) error
	TerminateAll(ctx context.Context, userID, reason string) (int64, error)
}

// SessionLookup fetches a session for ownership checks
type SessionLookup interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
}

// SessionHandler handles session management HTTP requests
type SessionHandler struct {
	sessions SessionManager
	lookup   SessionLookup
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionManager, lookup SessionLookup) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		lookup:   lookup,
	}
}

// List returns the caller's recent sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context(), claims.UserID, 20)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list sessions")
		return
	}

	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"sessions": out})
}

// Terminate ends one of the caller's sessions
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	target, err := h.lookup.GetByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "session not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to load session")
		return
	}

	// Users may only terminate their own sessions.
	if target.UserID != claims.UserID {
		pkghttp.WriteForbidden(w, "forbidden")
		return
	}

	if err := h.sessions.Terminate(r.Context(), sessionID, models.TerminationLogout); err != nil {
		pkghttp.WriteInternalError(w, "Failed to terminate session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TerminateAll ends every active session the caller holds
func (h *SessionHandler) TerminateAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	count, err := h.sessions.TerminateAll(r.Context(), claims.UserID, models.TerminationLogout)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to terminate sessions")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int64{"terminated": count})
}
