// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Response size buckets in bytes, 256B to 16MiB.
var sizeBuckets = prometheus.ExponentialBuckets(256, 4, 9)

// Relay outcome label values.
const (
	OutcomeOK              = "ok"
	OutcomeTimeout         = "timeout"
	OutcomeConnectionError = "connection_error"
	OutcomeProtocolError   = "protocol_error"
	OutcomeTooLarge        = "too_large"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ResponseSize     *prometheus.HistogramVec

	AppDuration  *prometheus.HistogramVec
	AppResponses *prometheus.CounterVec

	RelayRequests  *prometheus.CounterVec
	RelayDuration  *prometheus.HistogramVec
	RelayFallbacks prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		ResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_http_response_size_bytes",
			Help:    "Size of the body served to the client, after relay rewriting.",
			Buckets: sizeBuckets,
		}, []string{"path_prefix"}),

		AppDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_app_request_duration_seconds",
			Help:    "Wrapped application call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		AppResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_app_responses_total",
			Help: "Total wrapped application responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_relay_requests_total",
			Help: "Total relay round trips by outcome.",
		}, []string{"outcome"}),

		RelayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_relay_duration_seconds",
			Help:    "Relay round-trip latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"outcome"}),

		RelayFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_proxy_relay_fallbacks_total",
			Help: "Responses served from the application because the relay failed.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResponseSize,
		m.AppDuration,
		m.AppResponses,
		m.RelayRequests,
		m.RelayDuration,
		m.RelayFallbacks,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the proxy's own path label values. Everything else is
// application traffic.
var knownPrefixes = []string{"/_relay/healthz", "/_relay/status", "/_relay/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "app"
}
