package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetguardian/internal/auth"
	devices "fleetguardian/internal/devices/domain"
	"fleetguardian/internal/geo"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	telemetry "fleetguardian/internal/telemetry/domain"
)

// SOSIndex reports which devices still have unacknowledged SOS intents.
type SOSIndex interface {
	OpenSOSTargets(ctx context.Context, organizationID, branchID string) (map[string]bool, error)
}

// FleetEntry is one row of the fleet view.
type FleetEntry struct {
	devices.Device
	Status    devices.Status `json:"status"`
	Lat       float64        `json:"lat"`
	Lng       float64        `json:"lng"`
	SpeedKmh  float64        `json:"speed"`
	Heading   float64        `json:"heading"`
	Battery   *float64       `json:"battery,omitempty"`
	SampledAt *time.Time     `json:"sampled_at,omitempty"`
}

// Service manages devices and derives their status.
type Service struct {
	repo      devices.Repository
	locations telemetry.LocationQuery
	sos       SOSIndex
	logger    logging.Logger
	threshold float64
	fallback  geo.Point
	now       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLocations enables the fleet view's latest positions.
func WithLocations(query telemetry.LocationQuery) Option {
	return func(s *Service) {
		s.locations = query
	}
}

// WithSOSIndex enables the sos status.
func WithSOSIndex(index SOSIndex) Option {
	return func(s *Service) {
		s.sos = index
	}
}

// WithMovingThreshold overrides the moving speed in km/h.
func WithMovingThreshold(kmh float64) Option {
	return func(s *Service) {
		if kmh > 0 {
			s.threshold = kmh
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a device service.
func NewService(repo devices.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repo")
	}
	s := &Service{
		repo:      repo,
		logger:    logging.Discard(),
		threshold: devices.DefaultMovingThresholdKmh,
		fallback:  geo.DefaultFallback,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register stores a new device under tenant. An empty id gets a fresh one.
func (s *Service) Register(ctx context.Context, tenant auth.Tenant, id, plate, name string) (*devices.Device, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = identifier.New()
	}
	canonical, err := identifier.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", devices.ErrInvalidDevice, err)
	}
	plate = devices.NormalizePlate(plate)
	existing, err := s.repo.GetByPlate(ctx, tenant.OrganizationID, tenant.BranchID, plate)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != canonical {
		return nil, fmt.Errorf("%w: plate %s already linked", devices.ErrInvalidDevice, plate)
	}
	device := &devices.Device{
		ID:             canonical,
		OrganizationID: tenant.OrganizationID,
		BranchID:       tenant.BranchID,
		PlateNumber:    plate,
		Name:           name,
	}
	if err := s.repo.Save(ctx, device); err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.Fields{
		"device_id": device.ID,
		"plate":     device.PlateNumber,
	}).Info("device registered")
	return device, nil
}

// LinkByPlate returns the device registered under plate, registering one
// when the plate is new.
func (s *Service) LinkByPlate(ctx context.Context, tenant auth.Tenant, plate string) (*devices.Device, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	normalized := devices.NormalizePlate(plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty plate", devices.ErrInvalidDevice)
	}
	existing, err := s.repo.GetByPlate(ctx, tenant.OrganizationID, tenant.BranchID, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.Register(ctx, tenant, "", normalized, "")
}

// EnsureDeviceTenant implements auth.DeviceTenantChecker.
func (s *Service) EnsureDeviceTenant(ctx context.Context, tenant auth.Tenant, deviceID string) error {
	device, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return auth.ErrNotFound
	}
	if !tenant.Owns(device.OrganizationID, device.BranchID) {
		return auth.ErrTenantMismatch
	}
	return nil
}

// Decommission removes a device from the tenant's fleet.
func (s *Service) Decommission(ctx context.Context, tenant auth.Tenant, deviceID string) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	canonical, err := identifier.Parse(deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", devices.ErrInvalidDevice, err)
	}
	if err := s.EnsureDeviceTenant(ctx, tenant, canonical); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, tenant.OrganizationID, tenant.BranchID, canonical)
	if err != nil {
		return err
	}
	if !deleted {
		return auth.ErrNotFound
	}
	s.logger.WithField("device_id", canonical).Info("device decommissioned")
	return nil
}

// Touch records that a device reported.
func (s *Service) Touch(ctx context.Context, deviceID string) error {
	if !identifier.IsValid(deviceID) {
		return fmt.Errorf("%w: id %q", devices.ErrInvalidDevice, deviceID)
	}
	return s.repo.Touch(ctx, deviceID, s.now().UTC())
}

// Fleet lists the tenant's devices with their latest position and status.
// Devices that never reported sit at the fallback coordinate.
func (s *Service) Fleet(ctx context.Context) ([]FleetEntry, error) {
	tenant, err := auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListByTenant(ctx, tenant.OrganizationID, tenant.BranchID)
	if err != nil {
		return nil, err
	}

	latest := map[string]telemetry.LocationSample{}
	if s.locations != nil {
		latest, err = s.locations.LatestPerDevice(ctx, tenant.OrganizationID, tenant.BranchID)
		if err != nil {
			return nil, err
		}
	}
	open := map[string]bool{}
	if s.sos != nil {
		open, err = s.sos.OpenSOSTargets(ctx, tenant.OrganizationID, tenant.BranchID)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]FleetEntry, 0, len(list))
	for _, device := range list {
		entry := FleetEntry{Device: device, Lat: s.fallback.Lat, Lng: s.fallback.Lng}
		sample, ok := latest[device.ID]
		if ok {
			entry.Lat = sample.Lat
			entry.Lng = sample.Lng
			entry.SpeedKmh = sample.SpeedKmh
			entry.Heading = sample.Heading
			entry.Battery = sample.Battery
			at := sample.SampledAt
			entry.SampledAt = &at
		}
		entry.Status = devices.DeriveStatus(ok, sample.SpeedKmh, open[device.ID], s.threshold)
		entries = append(entries, entry)
	}
	return entries, nil
}
