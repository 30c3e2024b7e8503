package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	devices "fleetguardian/internal/devices/domain"
	telemetry "fleetguardian/internal/telemetry/domain"
)

const (
	org     = "11111111-1111-4111-8111-111111111111"
	branch  = "22222222-2222-4222-8222-222222222222"
	deviceA = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
	deviceB = "bbbbbbbb-2222-4222-8222-bbbbbbbbbbbb"
	deviceC = "cccccccc-3333-4333-8333-cccccccccccc"
	deviceD = "dddddddd-4444-4444-8444-dddddddddddd"
)

var tenant = auth.Tenant{OrganizationID: org, BranchID: branch}

type memRepo struct {
	byID    map[string]devices.Device
	touched map[string]time.Time
	saves   int
}

func newMemRepo(list ...devices.Device) *memRepo {
	r := &memRepo{byID: map[string]devices.Device{}, touched: map[string]time.Time{}}
	for _, d := range list {
		r.byID[d.ID] = d
	}
	return r
}

func (r *memRepo) Get(_ context.Context, id string) (*devices.Device, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *memRepo) GetByPlate(_ context.Context, org, branch, plate string) (*devices.Device, error) {
	for _, d := range r.byID {
		if d.OrganizationID == org && d.BranchID == branch && d.PlateNumber == plate {
			return &d, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListByTenant(_ context.Context, org, branch string) ([]devices.Device, error) {
	var out []devices.Device
	for _, id := range []string{deviceA, deviceB, deviceC, deviceD} {
		if d, ok := r.byID[id]; ok && d.OrganizationID == org && d.BranchID == branch {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) Save(_ context.Context, d *devices.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.saves++
	r.byID[d.ID] = *d
	return nil
}

func (r *memRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.touched[id] = at
	return nil
}

func (r *memRepo) Delete(_ context.Context, org, branch, id string) (bool, error) {
	d, ok := r.byID[id]
	if !ok || d.OrganizationID != org || d.BranchID != branch {
		return false, nil
	}
	delete(r.byID, id)
	return true, nil
}

type fixedLocations map[string]telemetry.LocationSample

func (f fixedLocations) Latest(context.Context, string, string, string) (*telemetry.LocationSample, error) {
	return nil, nil
}

func (f fixedLocations) History(context.Context, string, string, string, int) ([]telemetry.LocationSample, error) {
	return nil, nil
}

func (f fixedLocations) LatestPerDevice(context.Context, string, string) (map[string]telemetry.LocationSample, error) {
	return f, nil
}

type fixedSOS map[string]bool

func (f fixedSOS) OpenSOSTargets(context.Context, string, string) (map[string]bool, error) {
	return f, nil
}

func device(id, plate string) devices.Device {
	return devices.Device{ID: id, OrganizationID: org, BranchID: branch, PlateNumber: plate}
}

func TestLinkByPlate_FindsOrRegisters(t *testing.T) {
	repo := newMemRepo(device(deviceA, "LAG123XY"))
	svc, err := NewService(repo)
	require.NoError(t, err)

	got, err := svc.LinkByPlate(context.Background(), tenant, "lag 123-xy")
	require.NoError(t, err)
	assert.Equal(t, deviceA, got.ID)
	assert.Equal(t, 0, repo.saves)

	fresh, err := svc.LinkByPlate(context.Background(), tenant, "abc-999")
	require.NoError(t, err)
	assert.Equal(t, "ABC999", fresh.PlateNumber)
	assert.Len(t, fresh.ID, 36)
	assert.Equal(t, 1, repo.saves)

	again, err := svc.LinkByPlate(context.Background(), tenant, "ABC999")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, again.ID)
	assert.Equal(t, 1, repo.saves)
}

func TestLinkByPlate_RequiresTenant(t *testing.T) {
	svc, err := NewService(newMemRepo())
	require.NoError(t, err)

	_, err = svc.LinkByPlate(context.Background(), auth.Tenant{}, "ABC")
	assert.ErrorIs(t, err, auth.ErrMissingTenant)

	_, err = svc.LinkByPlate(context.Background(), tenant, "  ")
	assert.ErrorIs(t, err, devices.ErrInvalidDevice)
}

func TestRegister_RejectsTakenPlate(t *testing.T) {
	svc, err := NewService(newMemRepo(device(deviceA, "LAG1")))
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), tenant, deviceB, "LAG1", "")
	assert.ErrorIs(t, err, devices.ErrInvalidDevice)

	_, err = svc.Register(context.Background(), tenant, "not-an-id", "LAG2", "")
	assert.ErrorIs(t, err, devices.ErrInvalidDevice)
}

func TestEnsureDeviceTenant(t *testing.T) {
	other := device(deviceB, "X")
	other.OrganizationID = "33333333-3333-4333-8333-333333333333"
	svc, err := NewService(newMemRepo(device(deviceA, "A"), other))
	require.NoError(t, err)

	assert.NoError(t, svc.EnsureDeviceTenant(context.Background(), tenant, deviceA))
	assert.ErrorIs(t, svc.EnsureDeviceTenant(context.Background(), tenant, deviceB), auth.ErrTenantMismatch)
	assert.ErrorIs(t, svc.EnsureDeviceTenant(context.Background(), tenant, deviceC), auth.ErrNotFound)
}

func TestFleet_DerivesStatus(t *testing.T) {
	repo := newMemRepo(device(deviceA, "A"), device(deviceB, "B"), device(deviceC, "C"), device(deviceD, "D"))
	now := time.Now().UTC()
	locations := fixedLocations{
		deviceA: {DeviceID: deviceA, Lat: 1, Lng: 2, SpeedKmh: 40, SampledAt: now},
		deviceB: {DeviceID: deviceB, Lat: 3, Lng: 4, SpeedKmh: 2, SampledAt: now},
		deviceC: {DeviceID: deviceC, Lat: 5, Lng: 6, SpeedKmh: 80, SampledAt: now},
	}
	svc, err := NewService(repo, WithLocations(locations), WithSOSIndex(fixedSOS{deviceC: true}))
	require.NoError(t, err)

	ctx := auth.WithTenant(context.Background(), tenant)
	fleet, err := svc.Fleet(ctx)
	require.NoError(t, err)
	require.Len(t, fleet, 4)

	byID := map[string]FleetEntry{}
	for _, e := range fleet {
		byID[e.ID] = e
	}
	assert.Equal(t, devices.StatusMoving, byID[deviceA].Status)
	assert.Equal(t, devices.StatusOnline, byID[deviceB].Status)
	assert.Equal(t, devices.StatusSOS, byID[deviceC].Status)
	assert.Equal(t, devices.StatusOffline, byID[deviceD].Status)
	assert.Equal(t, 6.45, byID[deviceD].Lat)
	assert.Equal(t, 3.4, byID[deviceD].Lng)
	assert.Nil(t, byID[deviceD].SampledAt)
}

func TestFleet_RequiresTenant(t *testing.T) {
	svc, err := NewService(newMemRepo())
	require.NoError(t, err)
	_, err = svc.Fleet(context.Background())
	assert.True(t, errors.Is(err, auth.ErrMissingTenant))
}

func TestTouch(t *testing.T) {
	repo := newMemRepo()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewService(repo, WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	require.NoError(t, svc.Touch(context.Background(), deviceA))
	assert.Equal(t, at, repo.touched[deviceA])
	assert.ErrorIs(t, svc.Touch(context.Background(), "bad"), devices.ErrInvalidDevice)
}

func TestDecommission(t *testing.T) {
	other := device(deviceB, "X")
	other.OrganizationID = "33333333-3333-4333-8333-333333333333"
	repo := newMemRepo(device(deviceA, "A"), other)
	svc, err := NewService(repo)
	require.NoError(t, err)

	require.NoError(t, svc.Decommission(context.Background(), tenant, "AAAAAAAA-1111-4111-8111-AAAAAAAAAAAA"))
	_, still := repo.byID[deviceA]
	assert.False(t, still)

	assert.ErrorIs(t, svc.Decommission(context.Background(), tenant, deviceA), auth.ErrNotFound)
	assert.ErrorIs(t, svc.Decommission(context.Background(), tenant, deviceB), auth.ErrTenantMismatch)
	assert.ErrorIs(t, svc.Decommission(context.Background(), tenant, "bad"), devices.ErrInvalidDevice)
	assert.ErrorIs(t, svc.Decommission(context.Background(), auth.Tenant{}, deviceB), auth.ErrMissingTenant)
	assert.Contains(t, repo.byID, deviceB)
}
