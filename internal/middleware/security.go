package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from requests.
//
// Headers are set before the handler runs so they are present when the
// interceptor commits; a header the application sets itself wins.
// X-Frame-Options is only forced on the proxy's own endpoints, framing of
// application pages stays the application's decision.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			if isReserved(c.Request().URL.Path) {
				c.Response().Header().Set("X-Frame-Options", "DENY")
			}

			return next(c)
		}
	}
}

// isReserved reports whether path belongs to the proxy's own endpoints.
func isReserved(path string) bool {
	return strings.HasPrefix(path, config.ReservedPrefix+"/")
}
