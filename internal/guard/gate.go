package guard

import (
	"github.com/meridian-sms/meridian-sms/internal/authz"
)

// Gate is the non-navigational variant of the guard: it decides
// whether a UI fragment (button, panel) inside an already-authorized
// page shows, hides, or stays blank while loading. A gate never
// redirects.
type Gate struct {
	Domain     authz.Domain
	Actions    []authz.Action
	RequireAll bool
}

// Evaluate applies the same fail-closed and loading-suppression rules
// as the route guard. Possible states are StatePending, StateGranted
// and StateFallback only.
func (g Gate) Evaluate(in Input) Decision {
	if !in.IdentityResolved || !in.EvalResolved {
		return Decision{State: StatePending}
	}
	req := Requirement{Domain: g.Domain, Actions: g.Actions, RequireAll: g.RequireAll}
	if req.Met(in.Eval) {
		return render()
	}
	return fallback()
}

// FromDecision lifts a checker decision into a gate decision, for
// callers that already ran the non-rendering check.
func FromDecision(d authz.Decision) Decision {
	switch {
	case d.Pending:
		return Decision{State: StatePending}
	case d.Granted:
		return render()
	default:
		return fallback()
	}
}
