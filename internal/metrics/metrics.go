// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	AuditFailures     *prometheus.CounterVec
	SweepPagesDeleted prometheus.Counter
	SweepPageFailures prometheus.Counter
	BulkFailures      *prometheus.CounterVec
	MemoriesPurged    prometheus.Counter
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit entries that could not be written",
			},
			[]string{"action"},
		),
		SweepPagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_pages_deleted_total",
			Help:      "Pages hard-deleted by the sweep",
		}),
		SweepPageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_page_failures_total",
			Help:      "Pages the sweep failed to hard-delete",
		}),
		BulkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_bulk_failures_total",
				Help:      "Per-memory failures inside bulk expiry operations",
			},
			[]string{"op"},
		),
		MemoriesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_purged_total",
			Help:      "Expired or orphaned memories removed by the purge",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.AuditFailures,
		c.SweepPagesDeleted,
		c.SweepPageFailures,
		c.BulkFailures,
		c.MemoriesPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one finished request.
func (c *Collector) ObserveHTTP(method, route string, status int, dur time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// AuditFailure counts an audit write that was swallowed.
func (c *Collector) AuditFailure(action string) {
	if c == nil {
		return
	}
	c.AuditFailures.WithLabelValues(action).Inc()
}

// SweepResult records the outcome of one sweep run.
func (c *Collector) SweepResult(deleted, failed int) {
	if c == nil {
		return
	}
	c.SweepPagesDeleted.Add(float64(deleted))
	c.SweepPageFailures.Add(float64(failed))
}

// BulkFailure counts failed documents of a bulk operation.
func (c *Collector) BulkFailure(op string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.BulkFailures.WithLabelValues(op).Add(float64(n))
}

// Purged counts memories removed by the purge.
func (c *Collector) Purged(n int) {
	if c == nil {
		return
	}
	c.MemoriesPurged.Add(float64(n))
}
