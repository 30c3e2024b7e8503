package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetryevents "fleetguardian/internal/telemetry/application/events"
	"fleetguardian/internal/telemetry/domain"
)

type memRepo struct {
	samples []telemetry.LocationSample
	err     error
}

func (m *memRepo) Append(_ context.Context, samples ...telemetry.LocationSample) error {
	if m.err != nil {
		return m.err
	}
	m.samples = append(m.samples, samples...)
	return nil
}

type memPublisher struct{ events []any }

func (p *memPublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

const body = `{
	"organizationId":"11111111-1111-4111-8111-111111111111",
	"branchId":"22222222-2222-4222-8222-222222222222",
	"deviceId":"AAAAAAAA-1111-4111-8111-AAAAAAAAAAAA",
	"points":[
		{"ts":1700000000000,"lat":6.5,"lng":3.3,"speed":40,"battery":18},
		{"ts":1700000010,"lat":6.6,"lng":3.4,"speed":120}
	]
}`

func post(h http.Handler, payload string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/telemetry/ingest", strings.NewReader(payload)))
	return rec
}

func TestIngestAppendsAndPublishesLatest(t *testing.T) {
	repo, pub := &memRepo{}, &memPublisher{}
	h, err := NewHandler(repo, pub, nil)
	require.NoError(t, err)

	rec := post(h, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"inserted":2}`, rec.Body.String())

	require.Len(t, repo.samples, 2)
	assert.Equal(t, "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa", repo.samples[0].DeviceID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), repo.samples[0].SampledAt)

	require.Len(t, pub.events, 1)
	recorded := pub.events[0].(telemetryevents.LocationRecorded)
	assert.InDelta(t, 120.0, recorded.SpeedKmh, 1e-9)
}

type memFeed struct{ samples []telemetry.LocationSample }

func (f *memFeed) Publish(_ context.Context, samples ...telemetry.LocationSample) error {
	f.samples = append(f.samples, samples...)
	return nil
}

func TestIngestPublishesEverySampleToFeed(t *testing.T) {
	repo, live := &memRepo{}, &memFeed{}
	h, err := NewHandler(repo, nil, nil, WithFeed(live))
	require.NoError(t, err)

	rec := post(h, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, live.samples, 2)
	assert.Equal(t, repo.samples, live.samples)

	repo.err = errors.New("db down")
	rec = post(h, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, live.samples, 2)
}

func TestIngestSinglePoint(t *testing.T) {
	repo := &memRepo{}
	h, _ := NewHandler(repo, nil, nil)
	rec := post(h, `{"organizationId":"11111111-1111-4111-8111-111111111111","branchId":"22222222-2222-4222-8222-222222222222","deviceId":"aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa","ts":1700000000,"lat":1,"lng":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, repo.samples, 1)
}

func TestIngestRejects(t *testing.T) {
	repo := &memRepo{}
	h, _ := NewHandler(repo, nil, nil)

	cases := []string{
		`{`,
		`{"deviceId":"bad","organizationId":"11111111-1111-4111-8111-111111111111","branchId":"22222222-2222-4222-8222-222222222222","ts":1,"lat":1,"lng":1}`,
		`{"deviceId":"aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa","organizationId":"org","branchId":"22222222-2222-4222-8222-222222222222","ts":1,"lat":1,"lng":1}`,
		`{"deviceId":"aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa","organizationId":"11111111-1111-4111-8111-111111111111","branchId":"22222222-2222-4222-8222-222222222222"}`,
		`{"deviceId":"aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa","organizationId":"11111111-1111-4111-8111-111111111111","branchId":"22222222-2222-4222-8222-222222222222","ts":1700000000,"lat":91,"lng":1}`,
	}
	for _, c := range cases {
		assert.Equal(t, http.StatusBadRequest, post(h, c).Code, c)
	}
	assert.Empty(t, repo.samples)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestStoreFailure(t *testing.T) {
	h, _ := NewHandler(&memRepo{err: errors.New("down")}, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, post(h, body).Code)
}
