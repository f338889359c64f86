// Package observability exposes Prometheus metrics for the backplane.
package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backplane
type Metrics struct {
	messagesPublished *prometheus.CounterVec
	fanoutSize        prometheus.Histogram
	popDrains         prometheus.Counter
	popDrainedTotal   prometheus.Counter
	casConflicts      *prometheus.CounterVec
	casExhausted      *prometheus.CounterVec
	evictions         prometheus.Counter
	presenceOnline    prometheus.Counter
	presenceOffline   prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	return &Metrics{
		messagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_published_total",
				Help: "Total number of messages published, by channel kind",
			},
			[]string{"kind"},
		),
		fanoutSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_fanout_subscribers",
				Help:    "Number of subscribers a published message was fanned out to",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		popDrains: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_pop_drains_total",
				Help: "Total number of non-empty backlog drains",
			},
		),
		popDrainedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_pop_drained_messages_total",
				Help: "Total number of messages delivered through pop",
			},
		),
		casConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_kv_cas_conflicts_total",
				Help: "Total number of CAS conflicts, by operation",
			},
			[]string{"operation"},
		),
		casExhausted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_kv_cas_exhausted_total",
				Help: "Total number of CAS retry budgets spent without a commit, by operation",
			},
			[]string{"operation"},
		),
		evictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_subscribers_evicted_total",
				Help: "Total number of subscribers evicted for backlog overflow",
			},
		),
		presenceOnline: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_presence_online_total",
				Help: "Total number of collaborator online transitions",
			},
		),
		presenceOffline: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_presence_offline_total",
				Help: "Total number of collaborator offline transitions",
			},
		),
	}
}

// All recorders are nil-safe so managers can run without metrics in tests.

// RecordPublish records a published message and its fan-out size
func (m *Metrics) RecordPublish(kind string, subscribers int) {
	if m == nil {
		return
	}
	m.messagesPublished.WithLabelValues(kind).Inc()
	m.fanoutSize.Observe(float64(subscribers))
}

// RecordDrain records a successful backlog drain
func (m *Metrics) RecordDrain(messages int) {
	if m == nil {
		return
	}
	m.popDrains.Inc()
	m.popDrainedTotal.Add(float64(messages))
}

// RecordConflict records a CAS conflict for an operation
func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.casConflicts.WithLabelValues(operation).Inc()
}

// RecordExhausted records a spent CAS retry budget for an operation
func (m *Metrics) RecordExhausted(operation string) {
	if m == nil {
		return
	}
	m.casExhausted.WithLabelValues(operation).Inc()
}

// RecordEviction records a backlog-overflow eviction
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// RecordPresence records an online or offline transition
func (m *Metrics) RecordPresence(online bool) {
	if m == nil {
		return
	}
	if online {
		m.presenceOnline.Inc()
	} else {
		m.presenceOffline.Inc()
	}
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
