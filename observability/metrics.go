// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for webhook deliveries.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcome labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics holds the delivery instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	JobsEnqueued   *prometheus.CounterVec
	Attempts       *prometheus.CounterVec
	AttemptLatency *prometheus.HistogramVec
	Notifications  *prometheus.CounterVec
	Alerts         prometheus.Counter
	ManualRetries  prometheus.Counter
	JobsInFlight   prometheus.Gauge
	QueueDepth     *prometheus.GaugeVec
	Ingested       *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg. Pass a
// fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "payhook_jobs_enqueued_total", Help: "Webhook jobs added to the queue."},
			[]string{"event_type"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "payhook_delivery_attempts_total", Help: "Delivery attempts by outcome."},
			[]string{"outcome"},
		),
		AttemptLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payhook_delivery_latency_seconds",
				Help:    "Outbound webhook call latency.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "payhook_notifications_total", Help: "One-shot notifications by result."},
			[]string{"result"},
		),
		Alerts: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "payhook_alerts_total", Help: "Terminal delivery failures escalated."},
		),
		ManualRetries: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "payhook_manual_retries_total", Help: "Operator-triggered job retries."},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "payhook_jobs_in_flight", Help: "Jobs currently being attempted."},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "payhook_queue_jobs", Help: "Queue jobs by state at the last metrics read."},
			[]string{"state"},
		),
		Ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "payhook_ingest_messages_total", Help: "Upstream payment events read, by result."},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.JobsEnqueued, m.Attempts, m.AttemptLatency, m.Notifications,
			m.Alerts, m.ManualRetries, m.JobsInFlight, m.QueueDepth,
			m.Ingested,
		)
	}
	return m
}

// RecordEnqueue counts a queued job.
func (m *Metrics) RecordEnqueue(eventType string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(eventType).Inc()
}

// RecordAttempt counts an attempt and observes its latency.
func (m *Metrics) RecordAttempt(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.AttemptLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordNotification counts a one-shot notification.
func (m *Metrics) RecordNotification(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "sent"
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// RecordAlert counts an escalation.
func (m *Metrics) RecordAlert() {
	if m == nil {
		return
	}
	m.Alerts.Inc()
}

// RecordManualRetry counts an operator retry.
func (m *Metrics) RecordManualRetry() {
	if m == nil {
		return
	}
	m.ManualRetries.Inc()
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Add(delta)
}

// SetQueueDepth publishes queue counts.
func (m *Metrics) SetQueueDepth(state string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(state).Set(float64(n))
}

// Ingest results.
const (
	IngestQueued    = "queued"
	IngestMalformed = "malformed"
	IngestRejected  = "rejected"
	IngestFailed    = "failed"
	IngestReadError = "read_error"
)

// RecordIngest counts an upstream message by result.
func (m *Metrics) RecordIngest(result string) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues(result).Inc()
}
