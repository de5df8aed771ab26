// Package auth resolves the caller identity for each request. Callers
// present either a static API key or an HS256 JWT as a bearer token; both
// map to an Identity carried on the request context. When auth is
// disabled the gateway trusts the caller named in the request itself.
package auth

import "context"

// RoleAdmin grants access to gateway-wide observability and breaker
// administration.
const RoleAdmin = "admin"

// RoleUser is the default role for authenticated callers.
const RoleUser = "user"

// Identity is the authenticated caller.
type Identity struct {
	CallerID string
	Role     string
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type contextKey struct{}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored on the context, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
