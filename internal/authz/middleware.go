package authz

import (
	"net/http"

	"log/slog"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// Middleware wires permission checks into HTTP handlers. It expects
// the identity middleware to have run already; requests without a
// resolved identity or selected institution are denied, never errored.
type Middleware struct {
	Checker *Checker
	Logger  *slog.Logger
}

// RequireAny admits the request when the identity holds at least one
// of the actions on the domain.
func (m Middleware) RequireAny(domain Domain, actions ...Action) func(http.Handler) http.Handler {
	return m.require(domain, actions, func(c *Checker, r *http.Request, id identity.Identity, inst string) Decision {
		return c.Check(r.Context(), id, inst, domain, actions...)
	})
}

// RequireAll admits the request only when the identity holds every
// action on the domain.
func (m Middleware) RequireAll(domain Domain, actions ...Action) func(http.Handler) http.Handler {
	return m.require(domain, actions, func(c *Checker, r *http.Request, id identity.Identity, inst string) Decision {
		return c.CheckAll(r.Context(), id, inst, domain, actions...)
	})
}

func (m Middleware) require(domain Domain, actions []Action, check func(*Checker, *http.Request, identity.Identity, string) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok || !id.Authenticated() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			inst := shared.InstitutionFromContext(r.Context())
			decision := check(m.Checker, r, id, inst)
			if decision.Pending {
				// The request context died mid-load; nothing to render.
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if !decision.Granted {
				if m.Logger != nil {
					m.Logger.Info("permission denied",
						slog.String("subject", id.UserID),
						slog.String("institution", inst),
						slog.String("domain", string(domain)),
						slog.Int("actions", len(actions)))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
