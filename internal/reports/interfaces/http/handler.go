package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/reports"
	telemetry "fleetguardian/internal/telemetry/domain"
	telemetryhttp "fleetguardian/internal/telemetry/interfaces/http"
)

const (
	defaultExportLimit = 500
	maxExportLimit     = 5000
)

// PlateLookup resolves a device's plate for report headers.
type PlateLookup func(ctx context.Context, deviceID string) string

// ExportHandler serves GET /api/v1/devices/{id}/locations/export.
type ExportHandler struct {
	query   telemetry.LocationQuery
	devices auth.DeviceTenantChecker
	plates  PlateLookup
	logger  logging.Logger
	now     func() time.Time
}

// NewExportHandler constructs a handler. plates may be nil.
func NewExportHandler(query telemetry.LocationQuery, devices auth.DeviceTenantChecker, plates PlateLookup, logger logging.Logger) (*ExportHandler, error) {
	if query == nil {
		return nil, errors.New("export handler: nil query")
	}
	return &ExportHandler{
		query:   query,
		devices: devices,
		plates:  plates,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
	}, nil
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID, err := identifier.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	format, err := reports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}
	limit := defaultExportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if limit > maxExportLimit {
			limit = maxExportLimit
		}
	}
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.devices != nil {
		if err := h.devices.EnsureDeviceTenant(r.Context(), tenant, deviceID); err != nil {
			telemetryhttp.RespondTenantError(w, err)
			return
		}
	}

	samples, err := h.query.History(r.Context(), tenant.OrganizationID, tenant.BranchID, deviceID, limit)
	if err != nil {
		metrics.IncExport(string(format), metrics.ResultError)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	plate := ""
	if h.plates != nil {
		plate = h.plates(r.Context(), deviceID)
	}
	now := h.now().UTC()
	data, err := reports.Build(reports.NewHistory(deviceID, plate, samples, now), format)
	if err != nil {
		metrics.IncExport(string(format), metrics.ResultError)
		h.logger.WithError(err).WithField("device_id", deviceID).Error("report render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	metrics.IncExport(string(format), metrics.ResultSuccess)

	filename := fmt.Sprintf("locations-%s-%s.%s", deviceID, now.Format("20060102-150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}
