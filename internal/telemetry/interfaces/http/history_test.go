package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/telemetry/domain"
)

const (
	device = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
	org    = "11111111-1111-4111-8111-111111111111"
	branch = "22222222-2222-4222-8222-222222222222"
)

type stubQuery struct{ limit int }

func (q *stubQuery) Latest(context.Context, string, string, string) (*telemetry.LocationSample, error) {
	return nil, nil
}

func (q *stubQuery) History(_ context.Context, _, _, deviceID string, limit int) ([]telemetry.LocationSample, error) {
	q.limit = limit
	return []telemetry.LocationSample{{DeviceID: deviceID, Lat: 6.5}}, nil
}

func (q *stubQuery) LatestPerDevice(context.Context, string, string) (map[string]telemetry.LocationSample, error) {
	return nil, nil
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/devices/{id}/locations", h)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(auth.WithTenant(req.Context(), auth.Tenant{OrganizationID: org, BranchID: branch}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHistoryDefaultLimit(t *testing.T) {
	q := &stubQuery{}
	h, err := NewHistoryHandler(q, nil)
	require.NoError(t, err)

	rec := get(h, "/api/v1/devices/"+device+"/locations")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, telemetry.DefaultHistoryLimit, q.limit)

	get(h, "/api/v1/devices/"+device+"/locations?limit=5000")
	assert.Equal(t, maxHistoryLimit, q.limit)
}

func TestHistoryRejects(t *testing.T) {
	h, _ := NewHistoryHandler(&stubQuery{}, nil)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/v1/devices/xyz/locations").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/v1/devices/"+device+"/locations?limit=-1").Code)
}
