package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the wishlist pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsTracked       *prometheus.CounterVec
	NotificationsQueued *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	DeliveryDuration    prometheus.Histogram
	TickRuns            *prometheus.CounterVec
	TickDuration        *prometheus.HistogramVec
	QueueSize           *prometheus.GaugeVec
	RequestDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg. When reg is
// also a Gatherer, Handler serves it; otherwise the default gatherer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		EventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wishlist_events_tracked_total",
				Help: "Total number of wishlist events applied to analytics counters",
			},
			[]string{"event_type"},
		),
		NotificationsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_queued_total",
				Help: "Total number of notifications queued",
			},
			[]string{"type"},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notifications delivered to the sink",
			},
			[]string{"type"},
		),
		NotificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_failed_total",
				Help: "Total number of failed notification deliveries",
			},
			[]string{"type"},
		),
		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notification_delivery_duration_seconds",
				Help:    "Time taken by the delivery sink per attempt",
				Buckets: prometheus.DefBuckets,
			},
		),
		TickRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_tick_runs_total",
				Help: "Total number of scheduler tick runs",
			},
			[]string{"tick", "outcome"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_tick_duration_seconds",
				Help:    "Time taken by scheduler ticks",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tick"},
		),
		QueueSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notification_queue_size",
				Help: "Number of notification records per status",
			},
			[]string{"status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Time taken to serve API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		metrics.EventsTracked,
		metrics.NotificationsQueued,
		metrics.NotificationsSent,
		metrics.NotificationsFailed,
		metrics.DeliveryDuration,
		metrics.TickRuns,
		metrics.TickDuration,
		metrics.QueueSize,
		metrics.RequestDuration,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		metrics.gatherer = g
	}

	return metrics
}

// RecordEvent records a tracked analytics event
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTracked.WithLabelValues(eventType).Inc()
}

// RecordQueued records a queued notification
func (m *Metrics) RecordQueued(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsQueued.WithLabelValues(notificationType).Inc()
}

// RecordSent records a delivered notification
func (m *Metrics) RecordSent(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(notificationType).Inc()
}

// RecordFailed records a failed delivery
func (m *Metrics) RecordFailed(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(notificationType).Inc()
}

// RecordDeliveryDuration records the duration of one delivery attempt
func (m *Metrics) RecordDeliveryDuration(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
}

// RecordTick records a scheduler tick run
func (m *Metrics) RecordTick(tick, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TickRuns.WithLabelValues(tick, outcome).Inc()
	m.TickDuration.WithLabelValues(tick).Observe(seconds)
}

// SetQueueSize sets the number of records in a status
func (m *Metrics) SetQueueSize(status string, size float64) {
	if m == nil {
		return
	}
	m.QueueSize.WithLabelValues(status).Set(size)
}

// RecordRequestDuration records API request duration
func (m *Metrics) RecordRequestDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(operation).Observe(seconds)
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
