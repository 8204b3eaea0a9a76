package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-sms/meridian-sms/internal/authz"
	"github.com/meridian-sms/meridian-sms/internal/guard"
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
	"github.com/meridian-sms/meridian-sms/internal/roles"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	IdentityHandler *identity.Handler
	Identity        identity.Middleware
	AuthzHandler    *authz.Handler
	AuthzMiddleware authz.Middleware
	Guards          guard.Middleware
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults. The
// portal groups exist to host the excluded UI layer's protected
// regions; each sits behind its guard variant.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Identity:       params.Identity,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		params.IdentityHandler.MountRoutes(r)
	})
	r.Route("/authz", func(r chi.Router) {
		params.AuthzHandler.MountRoutes(r)
	})

	r.Route("/group", func(r chi.Router) {
		r.Use(params.Guards.Protect(guard.Guard{Variant: guard.VariantGroup}))
		r.Get("/", portalIndex("group"))
	})

	r.Route("/parent", func(r chi.Router) {
		r.Use(params.Guards.Protect(guard.Guard{Variant: guard.VariantParent}))
		r.Get("/", portalIndex("parent"))
	})

	r.Route("/staff", func(r chi.Router) {
		r.Use(params.Guards.Protect(guard.Guard{Variant: guard.VariantStaff}))
		r.Get("/", portalIndex("staff"))

		r.Route("/finance", func(r chi.Router) {
			r.Use(params.Guards.Protect(guard.Guard{
				Variant:      guard.VariantStaff,
				RequiredRole: roles.RoleAccountant,
			}))
			r.Get("/", portalIndex("finance"))

			r.Group(func(r chi.Router) {
				r.Use(params.Guards.Fragment(guard.Gate{
					Domain:  authz.DomainFinance,
					Actions: []authz.Action{authz.ActionApprove},
				}))
				r.Get("/approvals", portalIndex("finance-approvals"))
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(params.AuthzMiddleware.RequireAny(authz.DomainReports, authz.ActionView, authz.ActionExport))
			r.Get("/", portalIndex("reports"))
		})
	})

	return r
}

func portalIndex(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"portal": name})
	}
}
