package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrMissingTenant is returned when a write has no tenant context.
	ErrMissingTenant = errors.New("auth: missing tenant context")
	// ErrInvalidTenant is returned when tenant ids are not canonical identifiers.
	ErrInvalidTenant = errors.New("auth: invalid tenant context")
	// ErrTenantMismatch indicates a resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("auth: tenant mismatch")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("auth: resource not found")
)
