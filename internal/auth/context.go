package auth

import "context"

type contextKey string

const (
	contextKeyTenant  contextKey = "auth.tenant"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, tenant Tenant, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyTenant, tenant)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// WithTenant stores only the tenant. Used by the agent and CLI, which have no
// bearer token.
func WithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenant)
}

// TenantFromContext returns the validated tenant or ErrMissingTenant.
func TenantFromContext(ctx context.Context) (Tenant, error) {
	if ctx == nil {
		return Tenant{}, ErrMissingTenant
	}
	tenant, ok := ctx.Value(contextKeyTenant).(Tenant)
	if !ok {
		return Tenant{}, ErrMissingTenant
	}
	if err := tenant.Validate(); err != nil {
		return Tenant{}, err
	}
	return tenant, nil
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}
