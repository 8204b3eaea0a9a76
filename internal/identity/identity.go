// Package identity resolves the acting credential for a request from
// up to three independent channels: the primary account session, the
// parent OTP session and the student OTP session. Exactly one channel
// is authoritative at a time, by fixed precedence.
package identity

import (
	"time"

	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// Kind discriminates the identity variants.
type Kind int

const (
	// KindAnonymous means no channel produced a valid credential.
	KindAnonymous Kind = iota
	// KindPrimaryAccount is a registered account session.
	KindPrimaryAccount
	// KindParentSession is a parent one-time-passcode session.
	KindParentSession
	// KindStudentSession is a student one-time-passcode session.
	KindStudentSession
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPrimaryAccount:
		return "primary_account"
	case KindParentSession:
		return "parent_session"
	case KindStudentSession:
		return "student_session"
	default:
		return "anonymous"
	}
}

// Identity is the resolved credential snapshot. Consumers receive it
// by value and never mutate it; the resolver is the sole producer.
type Identity struct {
	Kind        Kind
	UserID      string
	Assignments []roles.Assignment
	SuperAdmin  bool
	Token       string
	ExpiresAt   time.Time
}

// Anonymous returns the unauthenticated identity.
func Anonymous() Identity {
	return Identity{Kind: KindAnonymous}
}

// Authenticated reports whether any channel resolved.
func (id Identity) Authenticated() bool {
	return id.Kind != KindAnonymous
}

// HasRole reports whether a primary-account identity carries the role
// on any of its assignments. OTP identities hold no role assignments.
func (id Identity) HasRole(role roles.Role) bool {
	return roles.HasRole(id.Assignments, role)
}

// ParentCapable reports whether the identity may act as a parent:
// either a parent OTP session or a primary account holding the parent
// role.
func (id Identity) ParentCapable() bool {
	if id.Kind == KindParentSession {
		return true
	}
	return id.Kind == KindPrimaryAccount && id.HasRole(roles.RoleParent)
}
