package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/telemetry/domain"
)

const maxHistoryLimit = 1000

// HistoryHandler serves GET /api/v1/devices/{id}/locations.
type HistoryHandler struct {
	query   telemetry.LocationQuery
	devices auth.DeviceTenantChecker
}

// NewHistoryHandler constructs a handler.
func NewHistoryHandler(query telemetry.LocationQuery, devices auth.DeviceTenantChecker) (*HistoryHandler, error) {
	if query == nil {
		return nil, errors.New("history handler: nil query")
	}
	return &HistoryHandler{query: query, devices: devices}, nil
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID, err := identifier.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	limit, err := ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.devices != nil {
		if err := h.devices.EnsureDeviceTenant(r.Context(), tenant, deviceID); err != nil {
			RespondTenantError(w, err)
			return
		}
	}

	samples, err := h.query.History(r.Context(), tenant.OrganizationID, tenant.BranchID, deviceID, limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []telemetry.LocationSample{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(samples)
}

// ParseLimit reads a history limit, defaulting to DefaultHistoryLimit.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return telemetry.DefaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

// RespondTenantError maps device ownership errors to status codes.
func RespondTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "tenant check failed", http.StatusInternalServerError)
	}
}
