package middleware

import (
	"net/textproto"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/policy"
)

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from the inbound request, including any header named in Connection.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header

			for _, v := range h.Values(echo.HeaderConnection) {
				for _, name := range strings.Split(v, ",") {
					if name = textproto.TrimString(name); name != "" {
						h.Del(name)
					}
				}
			}
			for _, name := range policy.HopByHopHeaders {
				h.Del(name)
			}

			return next(c)
		}
	}
}
