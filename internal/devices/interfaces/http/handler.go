package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fleetguardian/internal/audit"
	"fleetguardian/internal/auth"
	deviceapp "fleetguardian/internal/devices/application"
	devices "fleetguardian/internal/devices/domain"
	"fleetguardian/internal/identifier"
)

// Fleet is the device service surface the handlers need.
type Fleet interface {
	Fleet(ctx context.Context) ([]deviceapp.FleetEntry, error)
	Register(ctx context.Context, tenant auth.Tenant, id, plate, name string) (*devices.Device, error)
	EnsureDeviceTenant(ctx context.Context, tenant auth.Tenant, deviceID string) error
	Decommission(ctx context.Context, tenant auth.Tenant, deviceID string) error
}

// SOSAcknowledger clears open SOS intents for a device.
type SOSAcknowledger interface {
	AcknowledgeSOS(ctx context.Context, target string) (int64, error)
}

type registerRequest struct {
	ID          string `json:"id"`
	PlateNumber string `json:"plate_number"`
	Name        string `json:"name"`
}

// Handler serves /api/v1/devices, /api/v1/devices/{id} and
// /api/v1/devices/{id}/sos/ack.
type Handler struct {
	fleet       Fleet
	sos         SOSAcknowledger
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(fleet Fleet, sos SOSAcknowledger, auditLogger audit.Logger) (*Handler, error) {
	if fleet == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &Handler{fleet: fleet, sos: sos, auditLogger: auditLogger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.register(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.fleet.Fleet(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []deviceapp.FleetEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<10))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	device, err := h.fleet.Register(r.Context(), tenant, req.ID, req.PlateNumber, req.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, tenant, "device.register", device.ID, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(device)
}

// ServeDecommission handles DELETE /api/v1/devices/{id}.
func (h *Handler) ServeDecommission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
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
		respondError(w, err)
		return
	}
	if err := h.fleet.Decommission(r.Context(), tenant, deviceID); err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, tenant, "device.decommission", deviceID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// ServeSOSAck handles POST /api/v1/devices/{id}/sos/ack.
func (h *Handler) ServeSOSAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.sos == nil {
		http.Error(w, "sos acknowledgement unavailable", http.StatusServiceUnavailable)
		return
	}
	deviceID, err := identifier.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.fleet.EnsureDeviceTenant(r.Context(), tenant, deviceID); err != nil {
		respondError(w, err)
		return
	}
	count, err := h.sos.AcknowledgeSOS(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "acknowledge failed", http.StatusBadGateway)
		return
	}
	h.logAudit(r, tenant, "device.sos_ack", deviceID, nil)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"device_id":    deviceID,
		"acknowledged": count,
	})
}

func (h *Handler) logAudit(r *http.Request, tenant auth.Tenant, action, deviceID string, body []byte) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		OrganizationID: tenant.OrganizationID,
		BranchID:       tenant.BranchID,
		Actor:          auth.SubjectFromContext(r.Context()),
		Role:           string(auth.RoleFromContext(r.Context())),
		Action:         action,
		ResourceType:   "device",
		ResourceID:     deviceID,
		DeviceID:       deviceID,
		PayloadDigest:  audit.DigestJSON(body),
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrInvalidDevice):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrMissingTenant), errors.Is(err, auth.ErrInvalidTenant):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
