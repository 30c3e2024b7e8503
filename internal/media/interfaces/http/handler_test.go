package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/media"
)

const (
	device = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
	org    = "11111111-1111-4111-8111-111111111111"
	branch = "22222222-2222-4222-8222-222222222222"
)

type memRepo struct {
	gotOrg, gotBranch, gotDevice string
	gotLimit                     int
}

func (m *memRepo) Insert(context.Context, media.MediaObject) error { return nil }

func (m *memRepo) ListByDevice(_ context.Context, org, branch, deviceID string, limit int) ([]media.MediaObject, error) {
	m.gotOrg, m.gotBranch, m.gotDevice, m.gotLimit = org, branch, deviceID, limit
	return []media.MediaObject{{ID: "m-1", DeviceID: deviceID}}, nil
}

func serve(t *testing.T, h http.Handler, target string, withTenant bool) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/devices/{id}/media", h)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if withTenant {
		req = req.WithContext(auth.WithTenant(req.Context(), auth.Tenant{OrganizationID: org, BranchID: branch}))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListHandler(t *testing.T) {
	repo := &memRepo{}
	h, err := NewListHandler(repo, nil)
	require.NoError(t, err)

	rec := serve(t, h, "/api/v1/devices/"+device+"/media?limit=5", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, org, repo.gotOrg)
	assert.Equal(t, 5, repo.gotLimit)
	assert.Contains(t, rec.Body.String(), `"m-1"`)
}

func TestListHandlerRejects(t *testing.T) {
	h, _ := NewListHandler(&memRepo{}, auth.DeviceTenantCheckerFunc(func(context.Context, auth.Tenant, string) error {
		return auth.ErrTenantMismatch
	}))
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/devices/nope/media", true).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, h, "/api/v1/devices/"+device+"/media", false).Code)
	assert.Equal(t, http.StatusForbidden, serve(t, h, "/api/v1/devices/"+device+"/media", true).Code)
}
