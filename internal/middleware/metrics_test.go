package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/metrics"
)

type sample struct {
	labels map[string]string
	count  float64
	obs    uint64
}

// gather returns the samples of the named metric family.
func gather(t *testing.T, m *metrics.Metrics, name string) []sample {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []sample
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			s := sample{labels: make(map[string]string)}
			for _, lp := range metric.GetLabel() {
				s.labels[lp.GetName()] = lp.GetValue()
			}
			s.count = metric.GetCounter().GetValue()
			s.obs = metric.GetHistogram().GetSampleCount()
			out = append(out, s)
		}
	}
	return out
}

func findSample(samples []sample, labels map[string]string) (sample, bool) {
	for _, s := range samples {
		match := true
		for k, v := range labels {
			if s.labels[k] != v {
				match = false
				break
			}
		}
		if match {
			return s, true
		}
	}
	return sample{}, false
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestMetricsMiddleware_Routes(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/_proxy/metrics"))
	e.GET("/_proxy/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	serve(e, http.MethodGet, "/styles/app.css")
	serve(e, http.MethodGet, "/api/items/42")
	serve(e, http.MethodOptions, "/api/items/42")
	serve(e, http.MethodGet, "/_proxy/healthz")

	samples := gather(t, m, "cors_edge_proxy_http_requests_total")

	tests := []struct {
		labels map[string]string
		want   float64
	}{
		{map[string]string{"method": "GET", "status_code": "200", "route": "proxy"}, 2},
		{map[string]string{"method": "OPTIONS", "status_code": "200", "route": "preflight"}, 1},
		{map[string]string{"method": "GET", "status_code": "200", "route": "/_proxy/healthz"}, 1},
	}
	for _, tt := range tests {
		s, ok := findSample(samples, tt.labels)
		if !ok {
			t.Errorf("no sample with labels %v", tt.labels)
			continue
		}
		if s.count != tt.want {
			t.Errorf("labels %v: count = %v, want %v", tt.labels, s.count, tt.want)
		}
	}
}

func TestMetricsMiddleware_CustomMetricsPath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/internal/prom"))
	e.GET("/internal/prom", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	serve(e, http.MethodGet, "/internal/prom")

	samples := gather(t, m, "cors_edge_proxy_http_requests_total")
	if _, ok := findSample(samples, map[string]string{"route": "/internal/prom"}); !ok {
		t.Error("expected route=/internal/prom for the configured metrics path")
	}
	if _, ok := findSample(samples, map[string]string{"route": "proxy"}); ok {
		t.Error("metrics scrape counted as proxied traffic")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/_proxy/metrics"))
	e.GET("/page", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	serve(e, http.MethodGet, "/page")

	s, ok := findSample(gather(t, m, "cors_edge_proxy_http_request_duration_seconds"), map[string]string{"route": "proxy"})
	if !ok || s.obs == 0 {
		t.Error("expected cors_edge_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/_proxy/metrics"))
	e.Any("/_proxy/*", func(echo.Context) error {
		return echo.ErrNotFound
	})

	rec := serve(e, http.MethodGet, "/_proxy/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	s, ok := findSample(gather(t, m, "cors_edge_proxy_http_requests_total"), map[string]string{"route": "/_proxy"})
	if !ok {
		t.Fatal("expected cors_edge_proxy_http_requests_total with route=/_proxy")
	}
	if s.labels["status_code"] != "404" {
		t.Errorf("status_code = %q, want %q", s.labels["status_code"], "404")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/_proxy/metrics"))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	serve(e, "XYZZY", "/dav/file")

	if _, ok := findSample(gather(t, m, "cors_edge_proxy_http_requests_total"), map[string]string{"method": "other", "route": "proxy"}); !ok {
		t.Error("expected cors_edge_proxy_http_requests_total with method=other and route=proxy")
	}
}

func TestMetricsMiddleware_InFlightReturnsToZero(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/_proxy/metrics"))
	e.GET("/x", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	serve(e, http.MethodGet, "/x")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "cors_edge_proxy_http_requests_in_flight" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("in flight = %v, want 0", v)
			}
			return
		}
	}
	t.Error("cors_edge_proxy_http_requests_in_flight not registered")
}
