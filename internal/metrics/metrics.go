// Package metrics provides Prometheus metrics for the script server
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "scriptserve"

// Request statuses
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusOversize  = "oversize"
	StatusDiscarded = "discarded"
)

// Collector collects and exposes server metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	acceptErrors      prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	scriptBytes       prometheus.Histogram
	serializeFailures *prometheus.CounterVec
}

// New creates a collector with its own registry. Go runtime and process
// collectors are registered alongside the server metrics.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of connections currently being served",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of script requests by status",
		}, []string{"engine", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of script executions",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"engine"}),
		scriptBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_size_bytes",
			Help:      "Size of received script bodies",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		serializeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serialize_failures_total",
			Help:      "Total number of outcomes that could not be serialized",
		}, []string{"format"}),
	}

	c.registry.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.acceptErrors,
		c.requestsTotal,
		c.executionDuration,
		c.scriptBytes,
		c.serializeFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry holding all collectors
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ConnectionOpened records an accepted connection
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed records a finished connection
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// AcceptFailed records a failed accept
func (c *Collector) AcceptFailed() {
	if c == nil {
		return
	}
	c.acceptErrors.Inc()
}

// ObserveScript records the size of a received script
func (c *Collector) ObserveScript(size int) {
	if c == nil {
		return
	}
	c.scriptBytes.Observe(float64(size))
}

// ObserveExecution records one finished request
func (c *Collector) ObserveExecution(engine, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(engine, status).Inc()
	if status == StatusSuccess || status == StatusFailure {
		c.executionDuration.WithLabelValues(engine).Observe(d.Seconds())
	}
}

// SerializeFailed records an outcome that had no representation in format
func (c *Collector) SerializeFailed(format string) {
	if c == nil {
		return
	}
	c.serializeFailures.WithLabelValues(format).Inc()
}
