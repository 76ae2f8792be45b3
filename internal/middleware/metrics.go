package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/metrics"
)

// preflightRoute labels locally answered OPTIONS requests.
const preflightRoute = "preflight"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. metricsPath is the configured exposition route.
func MetricsMiddleware(m *metrics.Metrics, metricsPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// An *echo.HTTPError is rendered later by the central error
			// handler, so the response status is not written yet.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			req := c.Request()
			route := metrics.NormalizePath(req.URL.Path, metricsPath)
			if route == metrics.ProxyRoute && req.Method == http.MethodOptions {
				route = preflightRoute
			}
			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(req.Method)

			m.RequestsTotal.WithLabelValues(method, status, route).Inc()
			m.RequestDuration.WithLabelValues(method, status, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
