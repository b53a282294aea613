// Package observability holds process-wide Prometheus instruments.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestWatermarkGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikecoach",
		Subsystem: "ingest",
		Name:      "last_activity_ingested_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity committed to Postgres.",
	})

	streamSamplesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikecoach",
		Subsystem: "ingest",
		Name:      "stream_samples_inserted_total",
		Help:      "Number of stream rows bulk-inserted alongside activities.",
	})

	tokenRefreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikecoach",
		Subsystem: "strava",
		Name:      "token_refreshes_total",
		Help:      "Number of successful OAuth token refresh exchanges.",
	})

	webhookEventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikecoach",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries grouped by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(ingestWatermarkGauge, streamSamplesCounter, tokenRefreshCounter, webhookEventsCounter)
}

// RecordActivityIngested updates the ingest watermark and stream row counter.
func RecordActivityIngested(ts time.Time, samples int) {
	if !ts.IsZero() {
		ingestWatermarkGauge.Set(float64(ts.Unix()))
	}
	if samples > 0 {
		streamSamplesCounter.Add(float64(samples))
	}
}

// RecordTokenRefresh counts a successful credential refresh.
func RecordTokenRefresh() {
	tokenRefreshCounter.Inc()
}

// RecordWebhookEvent counts a webhook delivery by outcome
// (enqueued, ignored, rejected).
func RecordWebhookEvent(outcome string) {
	webhookEventsCounter.WithLabelValues(outcome).Inc()
}
