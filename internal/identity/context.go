package identity

import "context"

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity snapshot in
// context. Only the resolver (or a guard re-scoping its children)
// should call this.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the resolved identity; the second return is
// false when no resolution ran for this context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
