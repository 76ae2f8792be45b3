package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Paths under
// config.AdminPrefix are served locally and never proxied; OPTIONS is answered
// as a preflight on every path. Methods outside echo's standard set reach the
// proxy through the route-not-found handler.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET(config.HealthzPath, health.Healthz)
	e.OPTIONS(config.HealthzPath, proxy.Preflight)
	e.GET(config.StatusPath, health.Status)
	e.OPTIONS(config.StatusPath, proxy.Preflight)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
		e.OPTIONS(cfg.Metrics.Path, proxy.Preflight)
	}

	reserved := func(c echo.Context) error {
		if c.Request().Method == http.MethodOptions {
			return proxy.Preflight(c)
		}
		return echo.ErrNotFound
	}
	for _, p := range []string{config.AdminPrefix, config.AdminPrefix + "/*"} {
		e.Any(p, reserved)
		e.RouteNotFound(p, reserved)
	}

	e.Any("/*", proxy.Handle)
	e.RouteNotFound("/*", proxy.Handle)
}
