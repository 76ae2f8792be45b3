// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cors-edge-proxy/internal/config"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	AssetResponses        *prometheus.CounterVec
	RedirectsResolved     prometheus.Counter
	ContentTypeMismatches prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_edge_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cors_edge_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cors_edge_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cors_edge_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_edge_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		AssetResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cors_edge_proxy_asset_responses_total",
			Help: "Proxied responses by asset class (css, js, none).",
		}, []string{"class"}),

		RedirectsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cors_edge_proxy_asset_redirects_resolved_total",
			Help: "CSS redirects followed manually by the proxy.",
		}),

		ContentTypeMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cors_edge_proxy_css_content_type_mismatches_total",
			Help: "CSS requests answered with HTML or JSON by the upstream.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.AssetResponses,
		m.RedirectsResolved,
		m.ContentTypeMismatches,
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

// ProxyRoute is the route label shared by all proxied requests.
const ProxyRoute = "proxy"

// NormalizePath returns a bounded route label for Prometheus metrics. Admin
// routes and the configured metrics path keep their full path, any other path
// under the admin prefix collapses to the prefix, and everything else is
// proxied traffic.
func NormalizePath(path, metricsPath string) string {
	switch {
	case path == config.HealthzPath, path == config.StatusPath:
		return path
	case metricsPath != "" && path == metricsPath:
		return path
	case path == config.AdminPrefix, strings.HasPrefix(path, config.AdminPrefix+"/"):
		return config.AdminPrefix
	}
	return ProxyRoute
}
