package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"fleetguardian/internal/eventing"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	telemetryevents "fleetguardian/internal/telemetry/application/events"
	"fleetguardian/internal/telemetry/domain"
)

// Handler accepts location reports from trackers that post over HTTP
// instead of running the agent. Requests are HMAC-verified upstream.
type Handler struct {
	repo      telemetry.LocationRepository
	publisher eventing.Publisher
	feed      telemetry.LocationFeed
	logger    logging.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithFeed publishes every stored sample to live viewers.
func WithFeed(feed telemetry.LocationFeed) Option {
	return func(h *Handler) {
		h.feed = feed
	}
}

// NewHandler constructs an ingest handler.
func NewHandler(repo telemetry.LocationRepository, publisher eventing.Publisher, logger logging.Logger, opts ...Option) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	h := &Handler{repo: repo, publisher: publisher, logger: logging.OrDiscard(logger)}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles POST /api/v1/telemetry/ingest.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.ResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WithError(err).Warn("telemetry ingest: read body error")
		result = metrics.ResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.WithError(err).Warn("telemetry ingest: decode error")
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	samples, err := req.toSamples()
	if err != nil {
		h.logger.WithError(err).WithField("device_id", req.DeviceID).Warn("telemetry ingest: invalid payload")
		result = metrics.ResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.repo.Append(r.Context(), samples...); err != nil {
		h.logger.WithError(err).WithField("device_id", req.DeviceID).Error("telemetry ingest: append error")
		result = metrics.ResultError
		metrics.IncIngestError("insert_error")
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	if h.feed != nil {
		if err := h.feed.Publish(r.Context(), samples...); err != nil {
			h.logger.WithError(err).Warn("telemetry ingest: live feed error")
		}
	}
	if h.publisher != nil {
		latest := samples[0]
		for _, s := range samples[1:] {
			if s.SampledAt.After(latest.SampledAt) {
				latest = s
			}
		}
		event := telemetryevents.LocationRecorded{
			DeviceID:       latest.DeviceID,
			OrganizationID: latest.OrganizationID,
			BranchID:       latest.BranchID,
			Lat:            latest.Lat,
			Lng:            latest.Lng,
			SpeedKmh:       latest.SpeedKmh,
			Battery:        latest.Battery,
			OccurredAt:     latest.SampledAt,
		}
		if err := h.publisher.Publish(r.Context(), event); err != nil {
			h.logger.WithError(err).WithField("device_id", latest.DeviceID).Warn("telemetry ingest: publish error")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"inserted": len(samples)})
}

type ingestRequest struct {
	OrganizationID string        `json:"organizationId"`
	BranchID       string        `json:"branchId"`
	DeviceID       string        `json:"deviceId"`
	TS             int64         `json:"ts"`
	Lat            *float64      `json:"lat"`
	Lng            *float64      `json:"lng"`
	Speed          float64       `json:"speed"`
	Heading        float64       `json:"heading"`
	Battery        *float64      `json:"battery"`
	Points         []ingestPoint `json:"points"`
}

type ingestPoint struct {
	TS      int64    `json:"ts"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Speed   float64  `json:"speed"`
	Heading float64  `json:"heading"`
	Battery *float64 `json:"battery"`
}

func (r ingestRequest) toSamples() ([]telemetry.LocationSample, error) {
	deviceID, err := identifier.Parse(r.DeviceID)
	if err != nil {
		return nil, err
	}
	orgID, err := identifier.Parse(r.OrganizationID)
	if err != nil {
		return nil, errors.New("invalid organizationId")
	}
	branchID, err := identifier.Parse(r.BranchID)
	if err != nil {
		return nil, errors.New("invalid branchId")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Lat: r.Lat, Lng: r.Lng, Speed: r.Speed, Heading: r.Heading, Battery: r.Battery}}
	}
	if len(points) == 0 {
		return nil, errors.New("no location points")
	}

	samples := make([]telemetry.LocationSample, 0, len(points))
	for _, point := range points {
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		if point.Lat == nil || point.Lng == nil {
			return nil, errors.New("lat/lng required")
		}
		sample := telemetry.LocationSample{
			DeviceID:       deviceID,
			OrganizationID: orgID,
			BranchID:       branchID,
			Lat:            *point.Lat,
			Lng:            *point.Lng,
			SpeedKmh:       point.Speed,
			Heading:        point.Heading,
			Battery:        point.Battery,
			SampledAt:      ts,
		}
		if err := sample.Validate(); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
