// Package authz implements the permission evaluation engine: the
// closed domain/action universe, the per-institution permission
// matrix, and the evaluator that turns a resolved identity plus a
// tenant into grant decisions.
package authz

import "github.com/meridian-sms/meridian-sms/internal/roles"

// Domain is a coarse business area subject to access control.
type Domain string

const (
	DomainStudents       Domain = "students"
	DomainAcademics      Domain = "academics"
	DomainFinance        Domain = "finance"
	DomainStaffHR        Domain = "staff_hr"
	DomainCommunication  Domain = "communication"
	DomainReports        Domain = "reports"
	DomainSystemSettings Domain = "system_settings"
	DomainPlatform       Domain = "platform"
	DomainTransport      Domain = "transport"
	DomainLibrary        Domain = "library"
	DomainActivities     Domain = "activities"
	DomainUniforms       Domain = "uniforms"
	DomainTimetable      Domain = "timetable"
)

// Action is an operation verb checked against a domain.
type Action string

const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionApprove Action = "approve"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
)

// Domains enumerates the full domain universe.
func Domains() []Domain {
	return []Domain{
		DomainStudents, DomainAcademics, DomainFinance, DomainStaffHR,
		DomainCommunication, DomainReports, DomainSystemSettings,
		DomainPlatform, DomainTransport, DomainLibrary,
		DomainActivities, DomainUniforms, DomainTimetable,
	}
}

// Actions enumerates the full action universe.
func Actions() []Action {
	return []Action{
		ActionView, ActionCreate, ActionEdit,
		ActionApprove, ActionDelete, ActionExport,
	}
}

var validDomains = func() map[Domain]struct{} {
	m := make(map[Domain]struct{})
	for _, d := range Domains() {
		m[d] = struct{}{}
	}
	return m
}()

var validActions = func() map[Action]struct{} {
	m := make(map[Action]struct{})
	for _, a := range Actions() {
		m[a] = struct{}{}
	}
	return m
}()

// Valid reports whether the domain is part of the closed enumeration.
func (d Domain) Valid() bool {
	_, ok := validDomains[d]
	return ok
}

// Valid reports whether the action is part of the closed enumeration.
func (a Action) Valid() bool {
	_, ok := validActions[a]
	return ok
}

// Permission is a (domain, action) pair drawn from the closed
// enumeration above.
type Permission struct {
	Domain Domain
	Action Action
}

// Valid reports whether both halves of the permission are known.
func (p Permission) Valid() bool {
	return p.Domain.Valid() && p.Action.Valid()
}

// Matrix maps (role, domain, action) to granted. It is external
// configuration fetched per institution; the engine never derives it.
type Matrix struct {
	grants map[roles.Role]map[Permission]struct{}
}

// NewMatrix builds a matrix from explicit grants.
func NewMatrix() *Matrix {
	return &Matrix{grants: make(map[roles.Role]map[Permission]struct{})}
}

// Grant records that role may perform (domain, action). Grants with
// unknown domains or actions are ignored: they could never match a
// checkable permission anyway.
func (m *Matrix) Grant(role roles.Role, domain Domain, action Action) {
	p := Permission{Domain: domain, Action: action}
	if !p.Valid() {
		return
	}
	if m.grants == nil {
		m.grants = make(map[roles.Role]map[Permission]struct{})
	}
	set, ok := m.grants[role]
	if !ok {
		set = make(map[Permission]struct{})
		m.grants[role] = set
	}
	set[p] = struct{}{}
}

// Allows reports whether the matrix grants (domain, action) to role.
// A nil matrix allows nothing.
func (m *Matrix) Allows(role roles.Role, domain Domain, action Action) bool {
	if m == nil || m.grants == nil {
		return false
	}
	set, ok := m.grants[role]
	if !ok {
		return false
	}
	_, ok = set[Permission{Domain: domain, Action: action}]
	return ok
}

// Grants returns the grants held by a role, in no particular order.
func (m *Matrix) Grants(role roles.Role) []Permission {
	if m == nil {
		return nil
	}
	set := m.grants[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
