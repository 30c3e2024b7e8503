package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguardian/internal/identifier"
)

// ErrInvalidDevice is returned for devices that fail validation.
var ErrInvalidDevice = errors.New("device: invalid")

// Device is one field unit, addressed by a canonical identifier and linked
// to a vehicle by plate number.
type Device struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	BranchID       string     `json:"branch_id"`
	PlateNumber    string     `json:"plate_number"`
	Name           string     `json:"name"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if !identifier.IsValid(d.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidDevice, d.ID)
	}
	if d.OrganizationID == "" || d.BranchID == "" {
		return fmt.Errorf("%w: tenant required", ErrInvalidDevice)
	}
	if d.PlateNumber == "" {
		return fmt.Errorf("%w: empty plate", ErrInvalidDevice)
	}
	return nil
}

// NormalizePlate upper-cases a plate and drops spaces and dashes so
// "lag 123-xy" and "LAG123XY" name the same vehicle.
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(plate)) {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Repository manages device persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Device, error)
	GetByPlate(ctx context.Context, organizationID, branchID, plate string) (*Device, error)
	ListByTenant(ctx context.Context, organizationID, branchID string) ([]Device, error)
	Save(ctx context.Context, device *Device) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, organizationID, branchID, id string) (bool, error)
}
