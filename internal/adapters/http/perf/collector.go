package perf

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "membership"

// Collector owns a private Prometheus registry with request, query and domain event metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requests    *prometheus.HistogramVec
	queries     *prometheus.HistogramVec
	slowQueries prometheus.Counter
	events      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, including Go runtime and process metrics.
// POST: all metric families are registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database call latency by operation.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		slowQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_slow_queries_total",
			Help:      "Database calls slower than the configured threshold.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events by kind and outcome.",
		}, []string{"kind", "event"}),
	}
	reg.MustRegister(
		c.requests,
		c.queries,
		c.slowQueries,
		c.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveQuery records one database call. slow marks calls over the slow-query threshold.
func (c *Collector) ObserveQuery(op string, d time.Duration, slow bool) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(op).Observe(d.Seconds())
	if slow {
		c.slowQueries.Inc()
	}
}

// CountEvent increments the counter for a domain event, e.g. ("member", "member_enrolled").
func (c *Collector) CountEvent(kind, event string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind, event).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
