package shared

import "context"

type sessionContextKey struct{}

type institutionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithInstitution stores the selected tenant id in context.
func ContextWithInstitution(ctx context.Context, institutionID string) context.Context {
	return context.WithValue(ctx, institutionContextKey{}, institutionID)
}

// InstitutionFromContext extracts the selected tenant id; empty means
// no institution is selected and all non-super-admin checks deny.
func InstitutionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(institutionContextKey{}).(string)
	return id
}
