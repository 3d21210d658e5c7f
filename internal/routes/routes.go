package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/handlers"
	"github.com/mwalcott3/vigil/internal/middleware"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	adminHandler *handlers.AdminHandler,
	securityHandler *handlers.SecurityHandler,
	sessionValidator auth.SessionValidator,
	guard middleware.DecisionSource,
	ipConfig *pkghttp.IPConfig,
) {
	rateLimitConfig := middleware.DefaultAuthRateLimit()
	clientIP := func(r *http.Request) string {
		return pkghttp.ExtractClientIP(r, ipConfig)
	}

	// Public routes. The outer httprate limiter absorbs floods cheaply;
	// the security guard applies the engine's IP-scoped layers.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(middleware.SecurityGuard(guard, clientIP))
		r.Post("/auth/login", authHandler.Login)
	})

	// Protected routes - session token required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(sessionValidator))

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/verify", authHandler.Verify)
		r.Post("/auth/step-up/enroll", authHandler.EnrollStepUp)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions", sessionHandler.TerminateAll)
		r.Delete("/sessions/{sessionID}", sessionHandler.Terminate)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))

			r.Post("/admin/unlock/account", adminHandler.UnlockAccount)
			r.Post("/admin/unlock/ip", adminHandler.UnlockIP)
			r.Post("/admin/unlock/bulk", adminHandler.BulkUnlock)
			r.Post("/admin/unlock/emergency", adminHandler.EmergencyUnlock)
			r.Post("/admin/maintenance", adminHandler.Maintenance)

			r.Get("/security/dashboard", securityHandler.Dashboard)
			r.Get("/security/threats", securityHandler.Threats)
		})
	})
}
