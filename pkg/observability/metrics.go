// Package observability provides the Prometheus metrics and
// OpenTelemetry tracing providers shared by the transport middleware
// and the server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	Namespace      string
	ServiceName    string
	ServiceVersion string

	// Buckets for latency histograms, in seconds.
	Buckets []float64

	// Registry to register on. Nil creates a fresh registry, which
	// keeps parallel instances (tests, multiple servers) from
	// colliding.
	Registry *prometheus.Registry
}

// Metrics holds the module's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	requestsTotal      *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	toolCallDuration   *prometheus.HistogramVec
	toolCallsTotal     *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	openStreams        prometheus.Gauge
}

// NewMetrics creates and registers the module's collectors.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Buckets == nil {
		config.Buckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	}
	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	constLabels := prometheus.Labels{}
	if config.ServiceName != "" {
		constLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		constLabels["version"] = config.ServiceVersion
	}

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "request_duration_seconds",
			Help:        "Round-trip time of JSON-RPC requests.",
			Buckets:     config.Buckets,
			ConstLabels: constLabels,
		}, []string{"method", "status"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "requests_total",
			Help:        "JSON-RPC requests by method and status.",
			ConstLabels: constLabels,
		}, []string{"method", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "notifications_total",
			Help:        "JSON-RPC notifications sent, by method.",
			ConstLabels: constLabels,
		}, []string{"method"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "tool_call_duration_seconds",
			Help:        "Tool handler execution time.",
			Buckets:     config.Buckets,
			ConstLabels: constLabels,
		}, []string{"tool", "status"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "tool_calls_total",
			Help:        "Tool invocations by tool and status.",
			ConstLabels: constLabels,
		}, []string{"tool", "status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_sessions",
			Help:        "Currently live sessions.",
			ConstLabels: constLabels,
		}),
		openStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "open_sse_streams",
			Help:        "Currently open SSE connections.",
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requestDuration, m.requestsTotal, m.notificationsTotal,
		m.toolCallDuration, m.toolCallsTotal, m.activeSessions, m.openStreams,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that register
// their own collectors alongside.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRequest records one outgoing or incoming request round trip.
func (m *Metrics) RecordRequest(method string, err error, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, status(err)).Inc()
	m.requestDuration.WithLabelValues(method, status(err)).Observe(d.Seconds())
}

// RecordNotification records one notification send.
func (m *Metrics) RecordNotification(method string) {
	m.notificationsTotal.WithLabelValues(method).Inc()
}

// RecordToolCall records one tool handler execution.
func (m *Metrics) RecordToolCall(tool string, err error, d time.Duration) {
	m.toolCallsTotal.WithLabelValues(tool, status(err)).Inc()
	m.toolCallDuration.WithLabelValues(tool, status(err)).Observe(d.Seconds())
}

// SessionOpened increments the live-session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the live-session gauge.
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// StreamOpened increments the open-stream gauge.
func (m *Metrics) StreamOpened() { m.openStreams.Inc() }

// StreamClosed decrements the open-stream gauge.
func (m *Metrics) StreamClosed() { m.openStreams.Dec() }
