package auth

import (
	"context"
	"fmt"

	"fleetguardian/internal/identifier"
)

// Tenant scopes every write to one organization branch.
type Tenant struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	BranchID       string `json:"branch_id" yaml:"branch_id"`
}

// NewTenant validates and canonicalizes both ids.
func NewTenant(organizationID, branchID string) (Tenant, error) {
	t := Tenant{OrganizationID: organizationID, BranchID: branchID}
	if err := t.Validate(); err != nil {
		return Tenant{}, err
	}
	return Tenant{
		OrganizationID: identifier.MustParse(organizationID),
		BranchID:       identifier.MustParse(branchID),
	}, nil
}

// IsZero reports whether no tenant was set.
func (t Tenant) IsZero() bool {
	return t.OrganizationID == "" && t.BranchID == ""
}

// Validate checks both ids are present and canonical.
func (t Tenant) Validate() error {
	if t.IsZero() {
		return ErrMissingTenant
	}
	if !identifier.IsValid(t.OrganizationID) {
		return fmt.Errorf("%w: organization %q", ErrInvalidTenant, t.OrganizationID)
	}
	if !identifier.IsValid(t.BranchID) {
		return fmt.Errorf("%w: branch %q", ErrInvalidTenant, t.BranchID)
	}
	return nil
}

// Owns reports whether a record tagged with the given ids belongs to t.
func (t Tenant) Owns(organizationID, branchID string) bool {
	return t.OrganizationID == organizationID && t.BranchID == branchID
}

// DeviceTenantChecker validates device ownership.
type DeviceTenantChecker interface {
	EnsureDeviceTenant(ctx context.Context, tenant Tenant, deviceID string) error
}

// DeviceTenantCheckerFunc adapts a function to DeviceTenantChecker.
type DeviceTenantCheckerFunc func(ctx context.Context, tenant Tenant, deviceID string) error

// EnsureDeviceTenant calls f.
func (f DeviceTenantCheckerFunc) EnsureDeviceTenant(ctx context.Context, tenant Tenant, deviceID string) error {
	return f(ctx, tenant, deviceID)
}
