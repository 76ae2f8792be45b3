package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/policy"
)

// RateLimiter returns a per-IP rate limiting middleware. Admin endpoints are
// exempt. Rejections carry the CORS headers so browsers can read the 429.
func RateLimiter(cfg config.RateLimitConfig, headers *policy.Headers) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, config.AdminPrefix+"/")
		},
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			headers.SetCORS(c.Response().Header())
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
