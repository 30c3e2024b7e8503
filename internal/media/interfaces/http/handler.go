package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/media"
)

// ListHandler serves GET /api/v1/devices/{id}/media.
type ListHandler struct {
	repo    media.Repository
	devices auth.DeviceTenantChecker
}

// NewListHandler constructs a handler.
func NewListHandler(repo media.Repository, devices auth.DeviceTenantChecker) (*ListHandler, error) {
	if repo == nil {
		return nil, errors.New("media handler: nil repo")
	}
	return &ListHandler{repo: repo, devices: devices}, nil
}

func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID, err := identifier.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.devices != nil {
		if err := h.devices.EnsureDeviceTenant(r.Context(), tenant, deviceID); err != nil {
			respondTenantError(w, err)
			return
		}
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	list, err := h.repo.ListByDevice(r.Context(), tenant.OrganizationID, tenant.BranchID, deviceID, limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []media.MediaObject{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func respondTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "tenant check failed", http.StatusInternalServerError)
	}
}
