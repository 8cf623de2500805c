package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"relay-proxy-go/internal/config"
)

// RateLimiter returns a per-IP rate limiting middleware, or nil when rate
// limiting is disabled. The proxy's own endpoints are never limited so that
// checks keep working under load.
func RateLimiter(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return nil
	}
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return isReserved(c.Request().URL.Path)
		},
		Store: store,
	})
}
