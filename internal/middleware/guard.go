package middleware

import (
	"context"
	"net/http"

	"github.com/mwalcott3/vigil/internal/policy"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
)

// DecisionSource renders security verdicts for inbound requests
type DecisionSource interface {
	Evaluate(ctx context.Context, identity, ip string) policy.Decision
}

// ClientIPFunc extracts the client IP from a request
type ClientIPFunc func(r *http.Request) string

// SecurityGuard evaluates the IP-scoped security layers before a request
// reaches its handler. Identity-scoped layers run later inside the login
// flow, once the identity is known.
func SecurityGuard(source DecisionSource, clientIP ClientIPFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := source.Evaluate(r.Context(), "", clientIP(r))

			switch decision.Action {
			case policy.ActionRateLimit:
				pkghttp.WriteTooManyRequestsAfter(w, "too many requests", decision.RetryAfter)
				return
			case policy.ActionBlock:
				pkghttp.WriteForbidden(w, "request blocked")
				return
			case policy.ActionLockout:
				pkghttp.WriteLocked(w, "temporarily locked", decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
