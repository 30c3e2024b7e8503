package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"fleetguardian/internal/logging"
)

func registerDBMetrics(db *sql.DB, logger logging.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "event_outbox_pending",
			Help: "Pending outbox records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "event_dlq_count",
			Help: "Dead letter queue records",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM dead_letter_events")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sos_open",
			Help: "Unacknowledged SOS intents",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM intents WHERE kind = 'SOS' AND acknowledged_at IS NULL")
		},
	))
}

func queryCount(db *sql.DB, logger logging.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
