package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/audit"
	"fleetguardian/internal/auth"
	deviceapp "fleetguardian/internal/devices/application"
	devices "fleetguardian/internal/devices/domain"
)

const (
	org      = "11111111-1111-4111-8111-111111111111"
	branch   = "22222222-2222-4222-8222-222222222222"
	deviceID = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
)

type stubFleet struct {
	entries        []deviceapp.FleetEntry
	registered     []string
	decommissioned []string
	checkErr       error
}

func (s *stubFleet) Fleet(ctx context.Context) ([]deviceapp.FleetEntry, error) {
	if _, err := auth.TenantFromContext(ctx); err != nil {
		return nil, err
	}
	return s.entries, nil
}

func (s *stubFleet) Register(_ context.Context, tenant auth.Tenant, id, plate, name string) (*devices.Device, error) {
	if plate == "" {
		return nil, devices.ErrInvalidDevice
	}
	s.registered = append(s.registered, plate)
	return &devices.Device{ID: deviceID, OrganizationID: tenant.OrganizationID, BranchID: tenant.BranchID, PlateNumber: plate, Name: name}, nil
}

func (s *stubFleet) EnsureDeviceTenant(context.Context, auth.Tenant, string) error {
	return s.checkErr
}

func (s *stubFleet) Decommission(_ context.Context, _ auth.Tenant, id string) error {
	if s.checkErr != nil {
		return s.checkErr
	}
	s.decommissioned = append(s.decommissioned, id)
	return nil
}

type stubSOS struct{ targets []string }

func (s *stubSOS) AcknowledgeSOS(_ context.Context, target string) (int64, error) {
	s.targets = append(s.targets, target)
	return 2, nil
}

type memAudit struct{ entries []audit.Entry }

func (m *memAudit) Log(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func withTenant(r *http.Request) *http.Request {
	return r.WithContext(auth.WithTenant(r.Context(), auth.Tenant{OrganizationID: org, BranchID: branch}))
}

func TestHandler_ListFleet(t *testing.T) {
	fleet := &stubFleet{entries: []deviceapp.FleetEntry{{
		Device: devices.Device{ID: deviceID, PlateNumber: "LAG1"},
		Status: devices.StatusOffline,
		Lat:    6.45,
		Lng:    3.4,
	}}}
	h, err := NewHandler(fleet, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "offline", got[0]["status"])
	assert.Equal(t, 6.45, got[0]["lat"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Register(t *testing.T) {
	fleet := &stubFleet{}
	auditLog := &memAudit{}
	h, err := NewHandler(fleet, nil, auditLog)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(`{"plate_number":"LAG1","name":"Bus"}`))
	h.ServeHTTP(rec, withTenant(req))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"LAG1"}, fleet.registered)
	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, "device.register", auditLog.entries[0].Action)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(`{}`))
	h.ServeHTTP(rec, withTenant(req))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SOSAck(t *testing.T) {
	fleet := &stubFleet{}
	sos := &stubSOS{}
	h, err := NewHandler(fleet, sos, &memAudit{})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/devices/{id}/sos/ack", h.ServeSOSAck)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+deviceID+"/sos/ack", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{deviceID}, sos.targets)
	assert.Contains(t, rec.Body.String(), `"acknowledged":2`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodPost, "/api/v1/devices/nope/sos/ack", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fleet.checkErr = auth.ErrTenantMismatch
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+deviceID+"/sos/ack", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, sos.targets, 1)
}

func TestHandler_Decommission(t *testing.T) {
	fleet := &stubFleet{}
	auditLog := &memAudit{}
	h, err := NewHandler(fleet, nil, auditLog)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/devices/{id}", h.ServeDecommission)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodDelete, "/api/v1/devices/"+deviceID, nil)))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{deviceID}, fleet.decommissioned)
	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, "device.decommission", auditLog.entries[0].Action)
	assert.Equal(t, deviceID, auditLog.entries[0].ResourceID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodDelete, "/api/v1/devices/nope", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fleet.checkErr = auth.ErrNotFound
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, withTenant(httptest.NewRequest(http.MethodDelete, "/api/v1/devices/"+deviceID, nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, auditLog.entries, 1)
}
