// Package guard implements the route-guard state machine protecting
// UI regions: a pure decision function over settled identity and
// permission inputs, plus HTTP adapters that perform the redirect or
// hide side effects. Guards never raise errors; every ambiguous input
// denies.
package guard

import (
	"github.com/meridian-sms/meridian-sms/internal/authz"
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// State is the guard lifecycle state.
type State int

const (
	// StatePending means at least one upstream input has not settled;
	// neither the granted nor the denied branch may render.
	StatePending State = iota
	// StateGranted renders the protected children.
	StateGranted
	// StateRedirect denies with a navigation target.
	StateRedirect
	// StateFallback denies by rendering fallback content in place.
	StateFallback
)

// String returns a stable name for logging and metrics.
func (s State) String() string {
	switch s {
	case StateGranted:
		return "granted"
	case StateRedirect:
		return "redirect"
	case StateFallback:
		return "fallback"
	default:
		return "pending"
	}
}

// Decision is the guard outcome. RedirectTo is set only for
// StateRedirect; the hosting layer performs the actual navigation.
type Decision struct {
	State      State
	RedirectTo string
}

func render() Decision {
	return Decision{State: StateGranted}
}

func redirect(path string) Decision {
	return Decision{State: StateRedirect, RedirectTo: path}
}

func fallback() Decision {
	return Decision{State: StateFallback}
}

// Paths holds the three redirect targets guards use.
type Paths struct {
	// Root is the application root, for authenticated users outside
	// the guarded audience.
	Root string
	// SignIn receives unauthenticated users.
	SignIn string
	// Landing is the neutral in-app page for staff lacking a narrower
	// required role or permission.
	Landing string
}

// DefaultPaths returns the standard redirect targets.
func DefaultPaths() Paths {
	return Paths{Root: "/", SignIn: "/auth/sign-in", Landing: "/dashboard"}
}

// Variant selects the guard predicate.
type Variant int

const (
	// VariantGroup guards group-level (multi-school) regions.
	VariantGroup Variant = iota
	// VariantParent guards the parent portal.
	VariantParent
	// VariantStaff guards the staff portal.
	VariantStaff
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantParent:
		return "parent"
	case VariantStaff:
		return "staff"
	default:
		return "group"
	}
}

// Requirement is an optional narrower permission demand layered on the
// staff guard.
type Requirement struct {
	Domain     authz.Domain
	Actions    []authz.Action
	RequireAll bool
}

// Met evaluates the requirement against a settled evaluator.
func (req Requirement) Met(eval authz.Evaluator) bool {
	if req.RequireAll {
		return eval.CanAll(req.Domain, req.Actions...)
	}
	return eval.CanAny(req.Domain, req.Actions...)
}

// Guard describes one protected region.
type Guard struct {
	Variant      Variant
	RequiredRole roles.Role
	Requirement  *Requirement
	Paths        Paths
	// UseFallback renders fallback content on denial instead of
	// redirecting, for guards embedded inside an already-routed page.
	UseFallback bool
}

// Input carries the upstream state a guard decision depends on. The
// resolved flags model the join over in-flight fetches: until every
// input a variant needs has settled, the decision is StatePending.
type Input struct {
	IdentityResolved bool
	Identity         identity.Identity

	// EvalResolved reports whether the permission snapshot settled;
	// only consulted when the guard carries a Requirement.
	EvalResolved bool
	Eval         authz.Evaluator
}

var groupRoles = []roles.Role{roles.RoleSuperAdmin, roles.RoleInstitutionAdmin}

// Evaluate runs the guard predicate top to bottom, short-circuiting on
// the first matching deny condition. It is a pure function: same
// input, same decision.
func (g Guard) Evaluate(in Input) Decision {
	if !in.IdentityResolved {
		return Decision{State: StatePending}
	}
	paths := g.Paths
	if paths == (Paths{}) {
		paths = DefaultPaths()
	}

	switch g.Variant {
	case VariantParent:
		return g.finish(g.evaluateParent(in, paths))
	case VariantStaff:
		return g.finish(g.evaluateStaff(in, paths))
	default:
		return g.finish(g.evaluateGroup(in, paths))
	}
}

func (g Guard) evaluateGroup(in Input, paths Paths) Decision {
	id := in.Identity
	if id.Kind == identity.KindPrimaryAccount && (id.SuperAdmin || roles.HasAnyRole(id.Assignments, groupRoles)) {
		return render()
	}
	return redirect(paths.Root)
}

func (g Guard) evaluateParent(in Input, paths Paths) Decision {
	id := in.Identity
	if id.ParentCapable() {
		return render()
	}
	if !id.Authenticated() {
		return redirect(paths.SignIn)
	}
	return redirect(paths.Root)
}

func (g Guard) evaluateStaff(in Input, paths Paths) Decision {
	id := in.Identity
	if id.Kind == identity.KindPrimaryAccount && id.SuperAdmin {
		// Super admin bypasses the staff-role and narrower checks.
		return render()
	}
	if !id.Authenticated() {
		return redirect(paths.SignIn)
	}
	if id.Kind != identity.KindPrimaryAccount || !roles.HasAnyRole(id.Assignments, roles.StaffPortal()) {
		return redirect(paths.Root)
	}
	if g.RequiredRole != "" && !id.HasRole(g.RequiredRole) {
		return redirect(paths.Landing)
	}
	if g.Requirement != nil {
		if !in.EvalResolved {
			return Decision{State: StatePending}
		}
		if !g.Requirement.Met(in.Eval) {
			return redirect(paths.Landing)
		}
	}
	return render()
}

// finish converts redirects into fallbacks for embedded guards.
func (g Guard) finish(d Decision) Decision {
	if g.UseFallback && d.State == StateRedirect {
		return fallback()
	}
	return d
}
