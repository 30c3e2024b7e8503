package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/media"
	"fleetguardian/internal/sensors"
)

const device = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"

var tenant = auth.Tenant{
	OrganizationID: "11111111-1111-4111-8111-111111111111",
	BranchID:       "22222222-2222-4222-8222-222222222222",
}

type camera struct {
	openErr error
	opened  int
	closed  int
}

func (c *camera) Open(context.Context) (sensors.CameraHandle, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened++
	return handle{c}, nil
}

type handle struct{ c *camera }

func (h handle) Grab(context.Context) ([]byte, error) { return []byte("raw"), nil }
func (h handle) Close() error {
	h.c.closed++
	return nil
}

type store struct {
	err   error
	paths []string
}

func (s *store) Upload(_ context.Context, path, _ string, _ []byte) error {
	if s.err != nil {
		return s.err
	}
	s.paths = append(s.paths, path)
	return nil
}

func (s *store) PublicURL(path string) string { return "https://cdn.example.com/" + path }

type repo struct {
	inserted []media.MediaObject
}

func (r *repo) Insert(_ context.Context, obj media.MediaObject) error {
	r.inserted = append(r.inserted, obj)
	return nil
}

func (r *repo) ListByDevice(context.Context, string, string, string, int) ([]media.MediaObject, error) {
	return r.inserted, nil
}

type shared struct {
	held  bool
	grabs int
}

func (s *shared) Grab(context.Context) ([]byte, bool, error) {
	if !s.held {
		return nil, false, nil
	}
	s.grabs++
	return []byte("from-relay"), true, nil
}

func identity(b []byte) ([]byte, error) { return b, nil }

func TestCaptureUploadsThenRecords(t *testing.T) {
	cam, st, rp := &camera{}, &store{}, &repo{}
	at := time.UnixMilli(1700000000123)
	s, err := NewSnapshotter(strings.ToUpper(device), tenant, cam, st, rp, WithEncoder(identity), WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	obj, err := s.Capture(context.Background())
	require.NoError(t, err)

	require.Len(t, st.paths, 1)
	assert.True(t, strings.HasPrefix(st.paths[0], device+"/1700000000123-"), st.paths[0])
	assert.True(t, strings.HasSuffix(st.paths[0], ".jpg"))
	require.Len(t, rp.inserted, 1)
	assert.Equal(t, "https://cdn.example.com/"+st.paths[0], obj.URL)
	assert.Equal(t, tenant.OrganizationID, obj.OrganizationID)
	assert.EqualValues(t, 3, obj.Size)
	assert.Equal(t, 1, cam.opened)
	assert.Equal(t, 1, cam.closed)
}

func TestCaptureUploadFailureSkipsMetadata(t *testing.T) {
	cam, rp := &camera{}, &repo{}
	st := &store{err: media.ErrUpload}
	s, err := NewSnapshotter(device, tenant, cam, st, rp, WithEncoder(identity))
	require.NoError(t, err)

	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, media.ErrUpload)
	assert.Empty(t, rp.inserted)
	assert.Equal(t, 1, cam.closed)
}

func TestCaptureCameraUnavailable(t *testing.T) {
	cam := &camera{openErr: errors.New("permission denied")}
	st, rp := &store{}, &repo{}
	s, _ := NewSnapshotter(device, tenant, cam, st, rp, WithEncoder(identity))

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrSensor)
	assert.Empty(t, st.paths)
	assert.Empty(t, rp.inserted)
}

func TestCaptureBorrowsHeldCamera(t *testing.T) {
	cam, st, rp := &camera{}, &store{}, &repo{}
	sh := &shared{held: true}
	s, _ := NewSnapshotter(device, tenant, cam, st, rp, WithEncoder(identity), WithShared(sh))

	obj, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, len("from-relay"), obj.Size)
	assert.Equal(t, 1, sh.grabs)
	assert.Zero(t, cam.opened)

	sh.held = false
	_, err = s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cam.opened)
}

func TestNewSnapshotterValidates(t *testing.T) {
	_, err := NewSnapshotter("bad", tenant, &camera{}, &store{}, &repo{})
	assert.Error(t, err)
	_, err = NewSnapshotter(device, auth.Tenant{}, &camera{}, &store{}, &repo{})
	assert.Error(t, err)
}
