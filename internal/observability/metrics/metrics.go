package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fleetguardian/internal/logging"
)

const (
	metricPrefix = "fleetguardian_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	outboxPublishTotal   *prometheus.CounterVec
	outboxPublishLatency *prometheus.HistogramVec
	outboxDispatchTotal  *prometheus.CounterVec
	outboxDispatchEvents *prometheus.CounterVec

	intentsSent    *prometheus.CounterVec
	intentsHandled *prometheus.CounterVec
	geocodeTotal   *prometheus.CounterVec

	relayPublished *prometheus.CounterVec
	relayErrors    *prometheus.CounterVec
	relayDropped   *prometheus.CounterVec
	relayStreaming prometheus.Gauge
	viewerRenders  *prometheus.CounterVec
	viewersActive  prometheus.Gauge

	snapshotTotal   *prometheus.CounterVec
	snapshotLatency *prometheus.HistogramVec

	locationSamples prometheus.Counter
	alertsRaised    *prometheus.CounterVec

	exportTotal *prometheus.CounterVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger logging.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total location ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total location ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Location ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Outbox inserts by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox insert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_runs_total",
				Help: "Outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_events_total",
				Help: "Outbox events handled by outcome",
			},
			[]string{"outcome"},
		)

		intentsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "intents_sent_total",
				Help: "Intents written by kind and result",
			},
			[]string{"kind", "result"},
		)
		intentsHandled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "intents_handled_total",
				Help: "Intents received by the agent by kind and result",
			},
			[]string{"kind", "result"},
		)
		geocodeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "geocode_total",
				Help: "Geocode lookups by result",
			},
			[]string{"result"},
		)

		relayPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_published_total",
				Help: "Relay payloads published by stream",
			},
			[]string{"stream"},
		)
		relayErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_errors_total",
				Help: "Relay capture or publish errors by stream",
			},
			[]string{"stream"},
		)
		relayDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "relay_dropped_ticks_total",
				Help: "Relay ticks skipped because the previous capture was still running",
			},
			[]string{"stream"},
		)
		relayStreaming = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "relay_streaming",
				Help: "1 while the relay is streaming",
			},
		)
		viewerRenders = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "viewer_renders_total",
				Help: "Viewer renders by stream",
			},
			[]string{"stream"},
		)
		viewersActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "viewers_active",
				Help: "Open live viewers",
			},
		)

		snapshotTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshots_total",
				Help: "Snapshot captures by result",
			},
			[]string{"result"},
		)
		snapshotLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "snapshot_latency_seconds",
				Help:    "Snapshot capture and upload latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		locationSamples = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "location_samples_total",
				Help: "Location samples appended",
			},
		)
		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Alerts raised by type",
			},
			[]string{"type"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "location_export_total",
				Help: "Location history exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchEvents,
			intentsSent,
			intentsHandled,
			geocodeTotal,
			relayPublished,
			relayErrors,
			relayDropped,
			relayStreaming,
			viewerRenders,
			viewersActive,
			snapshotTotal,
			snapshotLatency,
			locationSamples,
			alertsRaised,
			exportTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveOutboxPublish records an outbox insert.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records a dispatch run.
func ObserveOutboxDispatch(result string, _ time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchEvents == nil {
		return
	}
	if sent > 0 {
		outboxDispatchEvents.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchEvents.WithLabelValues("failed").Add(float64(failed))
	}
	if dlq > 0 {
		outboxDispatchEvents.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// IncIntentSent counts an intent write attempt.
func IncIntentSent(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if intentsSent != nil {
		intentsSent.WithLabelValues(kind, result).Inc()
	}
}

// IncIntentHandled counts an intent seen by the agent.
func IncIntentHandled(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if intentsHandled != nil {
		intentsHandled.WithLabelValues(kind, result).Inc()
	}
}

// IncGeocode counts a geocode lookup.
func IncGeocode(result string) {
	if geocodeTotal != nil {
		geocodeTotal.WithLabelValues(result).Inc()
	}
}

// IncRelayPublished counts a published frame or audio chunk.
func IncRelayPublished(stream string) {
	if relayPublished != nil {
		relayPublished.WithLabelValues(stream).Inc()
	}
}

// IncRelayError counts a failed capture or publish.
func IncRelayError(stream string) {
	if relayErrors != nil {
		relayErrors.WithLabelValues(stream).Inc()
	}
}

// IncRelayDropped counts a skipped tick.
func IncRelayDropped(stream string) {
	if relayDropped != nil {
		relayDropped.WithLabelValues(stream).Inc()
	}
}

// SetRelayStreaming flips the streaming gauge.
func SetRelayStreaming(on bool) {
	if relayStreaming == nil {
		return
	}
	if on {
		relayStreaming.Set(1)
		return
	}
	relayStreaming.Set(0)
}

// IncViewerRender counts a viewer render.
func IncViewerRender(stream string) {
	if viewerRenders != nil {
		viewerRenders.WithLabelValues(stream).Inc()
	}
}

// AddViewers adjusts the open viewer gauge.
func AddViewers(delta int) {
	if viewersActive != nil {
		viewersActive.Add(float64(delta))
	}
}

// ObserveSnapshot records a snapshot capture.
func ObserveSnapshot(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if snapshotTotal != nil {
		snapshotTotal.WithLabelValues(result).Inc()
	}
	if snapshotLatency != nil {
		snapshotLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncLocationSample counts an appended location sample.
func IncLocationSample() {
	if locationSamples != nil {
		locationSamples.Inc()
	}
}

// IncAlert counts a raised alert.
func IncAlert(alertType string) {
	if alertType == "" {
		alertType = "unknown"
	}
	if alertsRaised != nil {
		alertsRaised.WithLabelValues(alertType).Inc()
	}
}

// IncExport counts a location history export.
func IncExport(format, result string) {
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
