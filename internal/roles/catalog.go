// Package roles defines the static role catalog for the school
// management platform: role identifiers, display labels, hierarchy
// ordering and named role groups. The catalog is tenant-agnostic;
// institution scoping of assignments is the caller's concern.
package roles

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is an opaque role identifier. Roles are immutable catalog
// values, never created or destroyed at runtime.
type Role string

const (
	RoleSuperAdmin            Role = "super_admin"
	RoleInstitutionAdmin      Role = "institution_admin"
	RoleTeacher               Role = "teacher"
	RoleAccountant            Role = "accountant"
	RoleRegistrar             Role = "registrar"
	RoleHRManager             Role = "hr_manager"
	RoleLibrarian             Role = "librarian"
	RoleTransportManager      Role = "transport_manager"
	RoleActivitiesCoordinator Role = "activities_coordinator"
	RoleParent                Role = "parent"
	RoleStudent               Role = "student"
)

// Assignment ties a subject to a role, optionally scoped to an
// institution. A zero InstitutionID means the role applies globally
// (super admin assignments carry no institution).
type Assignment struct {
	SubjectID     string
	Role          Role
	InstitutionID string
}

// Global reports whether the assignment applies across all
// institutions.
func (a Assignment) Global() bool {
	return a.InstitutionID == ""
}

var labels = map[Role]string{
	RoleSuperAdmin:            "Super Administrator",
	RoleInstitutionAdmin:      "Institution Administrator",
	RoleTeacher:               "Teacher",
	RoleAccountant:            "Accountant",
	RoleRegistrar:             "Registrar",
	RoleHRManager:             "HR Manager",
	RoleLibrarian:             "Librarian",
	RoleTransportManager:      "Transport Manager",
	RoleActivitiesCoordinator: "Activities Coordinator",
	RoleParent:                "Parent",
	RoleStudent:               "Student",
}

var titleCaser = cases.Title(language.English)

// Label returns the display label for a role. Unknown roles get a
// best-effort label derived from the identifier so that freshly
// provisioned catalog entries still render something sensible.
func Label(r Role) string {
	if l, ok := labels[r]; ok {
		return l
	}
	return titleCaser.String(strings.ReplaceAll(string(r), "_", " "))
}

// rank orders roles from most to least privileged. Lower is more
// privileged. Unknown roles rank below everything in the catalog.
var rank = map[Role]int{
	RoleSuperAdmin:            0,
	RoleInstitutionAdmin:      1,
	RoleHRManager:             2,
	RoleAccountant:            3,
	RoleRegistrar:             4,
	RoleTeacher:               5,
	RoleLibrarian:             6,
	RoleTransportManager:      7,
	RoleActivitiesCoordinator: 8,
	RoleParent:                9,
	RoleStudent:               10,
}

// Rank returns the hierarchy position of a role; unknown roles return
// a rank below every catalog role.
func Rank(r Role) int {
	if v, ok := rank[r]; ok {
		return v
	}
	return len(rank)
}

// Outranks reports whether a sits strictly higher in the hierarchy
// than b.
func Outranks(a, b Role) bool {
	return Rank(a) < Rank(b)
}

// StaffPortal lists the roles allowed into the staff portal.
func StaffPortal() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleInstitutionAdmin,
		RoleTeacher,
		RoleAccountant,
		RoleRegistrar,
		RoleHRManager,
		RoleLibrarian,
		RoleTransportManager,
		RoleActivitiesCoordinator,
	}
}

// Finance lists roles with finance responsibilities.
func Finance() []Role {
	return []Role{RoleSuperAdmin, RoleInstitutionAdmin, RoleAccountant}
}

// Academic lists roles with academic responsibilities.
func Academic() []Role {
	return []Role{RoleInstitutionAdmin, RoleTeacher, RoleRegistrar}
}

// AssignableStaff lists staff roles an institution admin may hand out.
// Super admin is deliberately absent: it is provisioned out of band.
func AssignableStaff() []Role {
	return []Role{
		RoleInstitutionAdmin,
		RoleTeacher,
		RoleAccountant,
		RoleRegistrar,
		RoleHRManager,
		RoleLibrarian,
		RoleTransportManager,
		RoleActivitiesCoordinator,
	}
}

// HasRole reports whether any assignment carries the given role.
// Unknown role strings simply never match.
func HasRole(assignments []Assignment, role Role) bool {
	for _, a := range assignments {
		if a.Role == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the assignment role set intersects the
// given role set.
func HasAnyRole(assignments []Assignment, set []Role) bool {
	if len(set) == 0 {
		return false
	}
	want := make(map[Role]struct{}, len(set))
	for _, r := range set {
		want[r] = struct{}{}
	}
	for _, a := range assignments {
		if _, ok := want[a.Role]; ok {
			return true
		}
	}
	return false
}

// ForInstitution filters assignments down to the effective role set
// for one institution: institution-scoped matches plus global roles.
func ForInstitution(assignments []Assignment, institutionID string) []Assignment {
	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if a.Global() || a.InstitutionID == institutionID {
			out = append(out, a)
		}
	}
	return out
}
