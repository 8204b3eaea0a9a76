package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meridian-sms/meridian-sms/internal/authz"
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// Middleware hosts guard decisions on HTTP routes. The decision logic
// stays in Guard.Evaluate; this adapter only builds the input from the
// request and performs the side effect the decision names.
type Middleware struct {
	Checker *authz.Checker
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Paths   Paths
}

// Protect wraps routes behind a guard variant. Granted requests run
// with the resolved identity scoped into context so nested consumers
// do not re-resolve.
func (m Middleware) Protect(g Guard) func(http.Handler) http.Handler {
	if g.Paths == (Paths{}) {
		g.Paths = m.paths()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := m.buildInput(r, g.Requirement != nil)
			decision := g.Evaluate(in)
			m.observe("guard_"+g.Variant.String(), decision.State)

			switch decision.State {
			case StateGranted:
				ctx := identity.ContextWithIdentity(r.Context(), in.Identity)
				next.ServeHTTP(w, r.WithContext(ctx))
			case StateRedirect:
				http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			case StateFallback:
				// Denied embedded regions are simply absent.
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			default:
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			}
		})
	}
}

// Fragment wraps a fragment route behind a gate. Hidden fragments
// respond 404, never a redirect.
func (m Middleware) Fragment(g Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := m.buildInput(r, true)
			decision := g.Evaluate(in)
			m.observe("gate", decision.State)

			switch decision.State {
			case StateGranted:
				next.ServeHTTP(w, r)
			case StateFallback:
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			default:
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			}
		})
	}
}

// buildInput assembles the guard input from request context. A load
// failure settles the evaluator empty, which denies everything the
// requirement could ask: resolution faults read as denial, never as an
// unhandled error.
func (m Middleware) buildInput(r *http.Request, needsEval bool) Input {
	in := Input{}
	id, ok := identity.FromContext(r.Context())
	if !ok {
		id = identity.Anonymous()
	}
	in.IdentityResolved = true
	in.Identity = id

	if !needsEval {
		return in
	}
	inst := shared.InstitutionFromContext(r.Context())
	eval, err := m.Checker.Evaluator(r.Context(), id, inst)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return in
		}
		if m.Logger != nil {
			m.Logger.Warn("guard evaluator load failed closed",
				slog.String("subject", id.UserID), slog.Any("error", err))
		}
		in.EvalResolved = true
		in.Eval = authz.Evaluator{}
		return in
	}
	in.EvalResolved = true
	in.Eval = eval
	return in
}

func (m Middleware) observe(component string, state State) {
	if m.Metrics != nil {
		m.Metrics.ObserveDecision(component, state.String())
	}
}

func (m Middleware) paths() Paths {
	if m.Paths == (Paths{}) {
		return DefaultPaths()
	}
	return m.Paths
}
