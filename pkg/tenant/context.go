package tenant

import "context"

type contextKey string

const (
	projectKey contextKey = "tenant_project"
	roleKey    contextKey = "tenant_role"
)

// Role is the RLS/authorisation role assigned by the cascataAuth state
// machine.
type Role string

const (
	RoleServiceRole   Role = "service_role"
	RoleAuthenticated Role = "authenticated"
	RoleAnon          Role = "anon"
)

// NewContext attaches the resolved Project to the context.
func NewContext(ctx context.Context, p *Project) context.Context {
	return context.WithValue(ctx, projectKey, p)
}

// FromContext extracts the resolved Project, or nil if unset.
func FromContext(ctx context.Context) *Project {
	v, _ := ctx.Value(projectKey).(*Project)
	return v
}

// NewRoleContext attaches the resolved Role to the context.
func NewRoleContext(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, roleKey, r)
}

// RoleFromContext extracts the resolved Role, defaulting to RoleAnon.
func RoleFromContext(ctx context.Context) Role {
	v, ok := ctx.Value(roleKey).(Role)
	if !ok {
		return RoleAnon
	}
	return v
}
