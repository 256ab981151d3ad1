// Package auth authenticates API callers against the users table and stores
// the resulting identity in the request context. Sessions are self-issued
// JWTs; long-lived automation uses the per-user persistent token; basic auth
// backs CLI wrappers. Permission tables live with the UI collaborator — the
// control plane only distinguishes admins, regular users, and the reserved
// internal user.
package auth

import "context"

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Authentication methods, recorded for auditing.
const (
	MethodSession = "session"
	MethodToken   = "token"
	MethodBasic   = "basic"
	MethodOIDC    = "oidc"
	MethodDev     = "dev"
)

// Identity describes an authenticated caller.
type Identity struct {
	UserID   int64
	Username string
	Role     string
	// FixPrice marks billing-controlled users: pod start/redeploy and
	// paid/unpaid transitions must go through the billing system.
	FixPrice bool
	Method   string
}

// IsAdmin reports whether the identity holds the admin role.
func (id *Identity) IsAdmin() bool {
	return id != nil && id.Role == RoleAdmin
}

type contextKey struct{}

// NewContext returns a context carrying the identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from the context, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
