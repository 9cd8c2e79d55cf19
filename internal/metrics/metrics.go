// Package metrics exposes Prometheus metrics for the delivery pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Courier
type Metrics struct {
	// Delivery counters, labeled by outcome (sent, failed, skipped)
	SendsTotal *prometheus.CounterVec

	// Engagement counters
	OpensTotal        prometheus.Counter
	ClicksTotal       prometheus.Counter
	UnsubscribesTotal prometheus.Counter
	RepliesTotal      prometheus.Counter
	BouncesTotal      prometheus.Counter

	// Queue gauges
	QueuePending prometheus.Gauge
	QueueDue     prometheus.Gauge
	QueueSending prometheus.Gauge
	QueueFailed  prometheus.Gauge

	// Batch processing
	BatchDurationSeconds prometheus.Histogram
	FollowUpsScheduled   prometheus.Counter

	// Webhook processing, labeled by outcome (processed, retried, failed)
	WebhookEventsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_sends_total",
			Help: "Total delivery attempts by outcome",
		}, []string{"outcome"}),
		OpensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_opens_total",
			Help: "Total first opens recorded",
		}),
		ClicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_clicks_total",
			Help: "Total first clicks recorded",
		}),
		UnsubscribesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_unsubscribes_total",
			Help: "Total unsubscribes recorded",
		}),
		RepliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_replies_total",
			Help: "Total replies recorded",
		}),
		BouncesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_bounces_total",
			Help: "Total bounces recorded",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_queue_pending",
			Help: "Queue items in pending status",
		}),
		QueueDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_queue_due",
			Help: "Pending queue items due now",
		}),
		QueueSending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_queue_sending",
			Help: "Queue items claimed by a batch run",
		}),
		QueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_queue_failed",
			Help: "Queue items in terminal failed status",
		}),
		BatchDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_batch_duration_seconds",
			Help:    "Batch processor invocation duration",
			Buckets: prometheus.DefBuckets,
		}),
		FollowUpsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_follow_ups_scheduled_total",
			Help: "Follow-up queue items enqueued by the scheduler",
		}),
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_webhook_events_total",
			Help: "Inbound webhook events by outcome",
		}, []string{"outcome"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		registry: registry,
	}

	registry.MustRegister(
		m.SendsTotal,
		m.OpensTotal,
		m.ClicksTotal,
		m.UnsubscribesTotal,
		m.RepliesTotal,
		m.BouncesTotal,
		m.QueuePending,
		m.QueueDue,
		m.QueueSending,
		m.QueueFailed,
		m.BatchDurationSeconds,
		m.FollowUpsScheduled,
		m.WebhookEventsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Init installs m as the global metrics instance
func Init(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance, nil if not initialized
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// Nil-safe increment helpers for call sites that should not care whether
// metrics are enabled.

func IncSends(outcome string) {
	if m := Global(); m != nil {
		m.SendsTotal.WithLabelValues(outcome).Inc()
	}
}

func IncOpens() {
	if m := Global(); m != nil {
		m.OpensTotal.Inc()
	}
}

func IncClicks() {
	if m := Global(); m != nil {
		m.ClicksTotal.Inc()
	}
}

func IncUnsubscribes() {
	if m := Global(); m != nil {
		m.UnsubscribesTotal.Inc()
	}
}

func IncReplies() {
	if m := Global(); m != nil {
		m.RepliesTotal.Inc()
	}
}

func IncBounces() {
	if m := Global(); m != nil {
		m.BouncesTotal.Inc()
	}
}

func IncFollowUps(n int) {
	if m := Global(); m != nil {
		m.FollowUpsScheduled.Add(float64(n))
	}
}

func IncWebhookEvents(outcome string) {
	if m := Global(); m != nil {
		m.WebhookEventsTotal.WithLabelValues(outcome).Inc()
	}
}

func ObserveBatchDuration(seconds float64) {
	if m := Global(); m != nil {
		m.BatchDurationSeconds.Observe(seconds)
	}
}
