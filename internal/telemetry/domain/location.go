package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"fleetguardian/internal/identifier"
)

// DefaultHistoryLimit is how many samples a history read returns by default.
const DefaultHistoryLimit = 20

// ErrInvalidSample is returned for samples that cannot be stored.
var ErrInvalidSample = errors.New("telemetry: invalid location sample")

// LocationSample is one appended position report.
type LocationSample struct {
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	BranchID       string    `json:"branch_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	SpeedKmh       float64   `json:"speed"`
	Heading        float64   `json:"heading"`
	Battery        *float64  `json:"battery,omitempty"`
	SampledAt      time.Time `json:"sampled_at"`
}

// Validate checks ids and coordinate ranges.
func (s LocationSample) Validate() error {
	if !identifier.IsValid(s.DeviceID) {
		return fmt.Errorf("%w: device %q", ErrInvalidSample, s.DeviceID)
	}
	if s.OrganizationID == "" || s.BranchID == "" {
		return fmt.Errorf("%w: tenant required", ErrInvalidSample)
	}
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lng) || s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidSample)
	}
	if s.SpeedKmh < 0 {
		return fmt.Errorf("%w: negative speed", ErrInvalidSample)
	}
	if s.Battery != nil && (*s.Battery < 0 || *s.Battery > 100) {
		return fmt.Errorf("%w: battery out of range", ErrInvalidSample)
	}
	if s.SampledAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	return nil
}

// LocationRepository appends samples.
type LocationRepository interface {
	Append(ctx context.Context, samples ...LocationSample) error
}

// LocationFeed pushes stored samples to live viewers.
type LocationFeed interface {
	Publish(ctx context.Context, samples ...LocationSample) error
}

// LocationQuery reads samples back.
type LocationQuery interface {
	Latest(ctx context.Context, organizationID, branchID, deviceID string) (*LocationSample, error)
	History(ctx context.Context, organizationID, branchID, deviceID string, limit int) ([]LocationSample, error)
	LatestPerDevice(ctx context.Context, organizationID, branchID string) (map[string]LocationSample, error)
}
