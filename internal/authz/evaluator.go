package authz

import (
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// Snapshot is a settled view of every input a decision needs: the
// resolved identity, the selected tenant, the subject's role
// assignments and that tenant's permission matrix. Decisions are pure
// functions of a snapshot; a snapshot built for institution A must
// never be reused for institution B.
type Snapshot struct {
	Identity      identity.Identity
	InstitutionID string
	Assignments   []roles.Assignment
	Matrix        *Matrix
}

// Evaluator answers permission checks against one snapshot.
type Evaluator struct {
	snap   Snapshot
	scoped []roles.Assignment
}

// NewEvaluator precomputes the institution-scoped role set: matching
// institution assignments plus global ones.
func NewEvaluator(snap Snapshot) Evaluator {
	return Evaluator{
		snap:   snap,
		scoped: roles.ForInstitution(snap.Assignments, snap.InstitutionID),
	}
}

// Snapshot returns the snapshot this evaluator was built from.
func (e Evaluator) Snapshot() Snapshot {
	return e.snap
}

// Can reports whether the identity may perform action on domain
// within the snapshot's institution. Super-admin identities bypass the
// matrix entirely. Everything ambiguous denies: missing institution,
// unknown domain or action, roles absent from the matrix.
func (e Evaluator) Can(domain Domain, action Action) bool {
	if e.snap.Identity.SuperAdmin && e.snap.Identity.Kind == identity.KindPrimaryAccount {
		return true
	}
	if e.snap.InstitutionID == "" {
		return false
	}
	if !(Permission{Domain: domain, Action: action}).Valid() {
		return false
	}
	for _, a := range e.scoped {
		if e.snap.Matrix.Allows(a.Role, domain, action) {
			return true
		}
	}
	return false
}

// CanAny is the OR combinator over Can. An empty action list is no
// grant at all and returns false.
func (e Evaluator) CanAny(domain Domain, actions ...Action) bool {
	for _, a := range actions {
		if e.Can(domain, a) {
			return true
		}
	}
	return false
}

// CanAll is the AND combinator over Can. An empty action list is
// vacuously true; callers that mean "no requirement" must not pass an
// empty set. The asymmetry with CanAny is deliberate and pinned by
// tests.
func (e Evaluator) CanAll(domain Domain, actions ...Action) bool {
	for _, a := range actions {
		if !e.Can(domain, a) {
			return false
		}
	}
	return true
}

// EffectiveRoles returns the institution-scoped roles the evaluator
// considers, for diagnostics.
func (e Evaluator) EffectiveRoles() []roles.Role {
	out := make([]roles.Role, 0, len(e.scoped))
	seen := make(map[roles.Role]struct{}, len(e.scoped))
	for _, a := range e.scoped {
		if _, ok := seen[a.Role]; ok {
			continue
		}
		seen[a.Role] = struct{}{}
		out = append(out, a.Role)
	}
	return out
}

// Decision is the outcome of a permission check. While Pending is
// true the upstream inputs had not settled and neither branch may be
// acted on.
type Decision struct {
	Granted bool
	Pending bool
}
