package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/eventing"
	"fleetguardian/internal/geo"
	intentevents "fleetguardian/internal/intents/application/events"
	intents "fleetguardian/internal/intents/domain"
)

const (
	target = "3f2b8c1e-9a4d-4e6f-8b2a-1c3d5e7f9a0b"
	org    = "11111111-1111-4111-8111-111111111111"
	branch = "22222222-2222-4222-8222-222222222222"
)

type fakeRepo struct {
	mu      sync.Mutex
	calls   int
	created []*intents.Intent
	envs    []eventing.Envelope
	byKey   map[string]*intents.Intent
	acked   int64
	err     error
}

func (r *fakeRepo) Create(_ context.Context, intent *intents.Intent, env eventing.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	if _, held := r.byKey[intent.IdempotencyKey]; held && intent.IdempotencyKey != "" {
		return intents.ErrDuplicateKey
	}
	r.created = append(r.created, intent)
	r.envs = append(r.envs, env)
	if intent.IdempotencyKey != "" {
		if r.byKey == nil {
			r.byKey = map[string]*intents.Intent{}
		}
		r.byKey[intent.IdempotencyKey] = intent
	}
	return nil
}

func (r *fakeRepo) FindByIdempotencyKey(_ context.Context, _ string, key string, _ time.Time) (*intents.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.byKey[key], nil
}

func (r *fakeRepo) ListByTarget(context.Context, string, string, string, int) ([]intents.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil, nil
}

func (r *fakeRepo) AcknowledgeSOS(context.Context, string, string, string, time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.acked, nil
}

type fixedLocator struct {
	point geo.Point
	ok    bool
	asked []string
}

func (l *fixedLocator) Locate(_ context.Context, address string) (geo.Point, bool) {
	l.asked = append(l.asked, address)
	return l.point, l.ok
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

func tenantCtx() context.Context {
	return auth.WithIdentity(context.Background(), auth.Tenant{OrganizationID: org, BranchID: branch}, auth.RoleOperator, "op@example.com")
}

func TestSend_InvalidTargetNeverReachesRepo(t *testing.T) {
	repo := &fakeRepo{}
	svc, err := NewService(repo)
	require.NoError(t, err)

	for _, bad := range []string{"", "not-a-uuid", "3f2b8c1e9a4d4e6f8b2a1c3d5e7f9a0b", target + "x"} {
		_, err := svc.Send(tenantCtx(), SendRequest{Target: bad, Kind: intents.KindReload})
		assert.ErrorIs(t, err, ErrInvalidTarget, bad)
	}
	assert.Zero(t, repo.calls)
}

func TestSend_RequiresTenant(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := NewService(repo)

	_, err := svc.Send(context.Background(), SendRequest{Target: target, Kind: intents.KindReload})
	assert.ErrorIs(t, err, auth.ErrMissingTenant)
	assert.Zero(t, repo.calls)
}

func TestSend_UnknownKind(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := NewService(repo)

	_, err := svc.Send(tenantCtx(), SendRequest{Target: target, Kind: "SELF_DESTRUCT"})
	assert.ErrorIs(t, err, intents.ErrUnknownKind)
	assert.Zero(t, repo.calls)
}

func TestSend_WritesIntentWithEnvelope(t *testing.T) {
	repo := &fakeRepo{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := NewService(repo, WithClock(func() time.Time { return now }))

	intent, err := svc.Send(tenantCtx(), SendRequest{
		Target:  "3F2B8C1E-9A4D-4E6F-8B2A-1C3D5E7F9A0B",
		Kind:    intents.KindStartLiveFeed,
		Payload: json.RawMessage(`{"with_audio":true}`),
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	assert.Equal(t, target, intent.Target)
	assert.Equal(t, org, intent.OrganizationID)
	assert.Equal(t, branch, intent.BranchID)
	assert.Equal(t, now, intent.CreatedAt)

	env := repo.envs[0]
	assert.Equal(t, intent.ID, env.EventID)
	assert.Equal(t, eventing.EventTypeOf[intentevents.IntentIssued](), env.EventType)
	assert.Equal(t, target, env.DeviceID)
	assert.Equal(t, org, env.OrganizationID)
}

func TestSend_IdempotencyKeyReturnsExisting(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := NewService(repo)
	req := SendRequest{Target: target, Kind: intents.KindCaptureRequest, IdempotencyKey: "btn-42"}

	first, err := svc.Send(tenantCtx(), req)
	require.NoError(t, err)
	second, err := svc.Send(tenantCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.created, 1)
}

// racingRepo misses the next blind lookups, as a retry does when it checks
// the key before a concurrent first write commits.
type racingRepo struct {
	fakeRepo
	blind int
}

func (r *racingRepo) FindByIdempotencyKey(ctx context.Context, org string, key string, since time.Time) (*intents.Intent, error) {
	if r.blind > 0 {
		r.blind--
		return nil, nil
	}
	return r.fakeRepo.FindByIdempotencyKey(ctx, org, key, since)
}

func TestSend_ConcurrentRetriesShareOneIntent(t *testing.T) {
	repo := &racingRepo{}
	svc, _ := NewService(repo)
	req := SendRequest{Target: target, Kind: intents.KindCaptureRequest, IdempotencyKey: "btn-7"}

	first, err := svc.Send(tenantCtx(), req)
	require.NoError(t, err)

	repo.blind = 1
	second, err := svc.Send(tenantCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.created, 1)
}

func TestSend_KeyConflictWithoutRowIsReturned(t *testing.T) {
	repo := &racingRepo{blind: 2}
	repo.byKey = map[string]*intents.Intent{"btn-9": {ID: "gone"}}
	svc, _ := NewService(repo)

	_, err := svc.Send(tenantCtx(), SendRequest{Target: target, Kind: intents.KindReload, IdempotencyKey: "btn-9"})
	assert.ErrorIs(t, err, intents.ErrDuplicateKey)
}

func TestSend_WithoutKeyWritesEveryTime(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := NewService(repo)
	req := SendRequest{Target: target, Kind: intents.KindCaptureRequest}

	_, err := svc.Send(tenantCtx(), req)
	require.NoError(t, err)
	_, err = svc.Send(tenantCtx(), req)
	require.NoError(t, err)

	assert.Len(t, repo.created, 2)
}

func TestSend_RepoFailureIsReturned(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	svc, _ := NewService(repo)

	_, err := svc.Send(tenantCtx(), SendRequest{Target: target, Kind: intents.KindReload})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 1, repo.calls)
}

func TestSend_StartRideGeocodesUnresolvedPlaces(t *testing.T) {
	repo := &fakeRepo{}
	locator := &fixedLocator{point: geo.Point{Lat: 6.5, Lng: 3.35}, ok: true}
	svc, _ := NewService(repo, WithLocator(locator))

	intent, err := svc.Send(tenantCtx(), SendRequest{
		Target:  target,
		Kind:    intents.KindStartRide,
		Payload: json.RawMessage(`{"pickup":{"address":"Ikeja"},"dropoff":{"address":"Lekki","lat":6.44,"lng":3.47}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ikeja"}, locator.asked)

	payload, err := intent.Decode()
	require.NoError(t, err)
	ride := payload.(*intents.StartRide)
	assert.True(t, ride.Geocoded)
	assert.InDelta(t, 6.5, *ride.Pickup.Lat, 1e-9)
	assert.InDelta(t, 3.47, *ride.Dropoff.Lng, 1e-9)
}

func TestSend_StartRideFallbackStillWrites(t *testing.T) {
	repo := &fakeRepo{}
	svc, _ := NewService(repo, WithLocator(&fixedLocator{point: geo.DefaultFallback}))

	intent, err := svc.Send(tenantCtx(), SendRequest{
		Target:  target,
		Kind:    intents.KindStartRide,
		Payload: json.RawMessage(`{"pickup":{"address":"nowhere"},"dropoff":{"address":"also nowhere"}}`),
	})
	require.NoError(t, err)

	payload, err := intent.Decode()
	require.NoError(t, err)
	ride := payload.(*intents.StartRide)
	assert.False(t, ride.Geocoded)
	assert.InDelta(t, 6.45, *ride.Pickup.Lat, 1e-9)
	assert.InDelta(t, 3.4, *ride.Dropoff.Lng, 1e-9)
}

func TestSend_DeviceCheckerRejects(t *testing.T) {
	repo := &fakeRepo{}
	checker := auth.DeviceTenantCheckerFunc(func(context.Context, auth.Tenant, string) error {
		return auth.ErrTenantMismatch
	})
	svc, _ := NewService(repo, WithDeviceChecker(checker))

	_, err := svc.Send(tenantCtx(), SendRequest{Target: target, Kind: intents.KindReload})
	assert.ErrorIs(t, err, auth.ErrTenantMismatch)
	assert.Zero(t, repo.calls)
}

func TestAcknowledgeSOS_PublishesWhenCleared(t *testing.T) {
	repo := &fakeRepo{acked: 2}
	pub := &capturePublisher{}
	svc, _ := NewService(repo, WithEventPublisher(pub))

	count, err := svc.AcknowledgeSOS(tenantCtx(), target)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	require.Len(t, pub.events, 1)
	ack := pub.events[0].(intentevents.SOSAcknowledged)
	assert.Equal(t, "op@example.com", ack.AcknowledgedBy)
	assert.EqualValues(t, 2, ack.Count)

	repo.acked = 0
	_, err = svc.AcknowledgeSOS(tenantCtx(), target)
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}
