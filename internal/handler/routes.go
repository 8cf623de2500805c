package handler

import (
	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Everything
// outside the reserved prefix goes to the application through the interceptor.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, intercept echo.MiddlewareFunc) {
	e.GET(config.HealthzPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	e.Any("/*", proxy.Handle, intercept)
}
