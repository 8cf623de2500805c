package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

const relayPingTimeout = 2 * time.Second

// RelayPinger checks whether the relay endpoint answers a liveness ping.
type RelayPinger interface {
	Ping(ctx context.Context) error
	Addr() string
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	relay   RelayPinger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, relay RelayPinger) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, relay: relay}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information, including whether the relay is reachable.
// An unreachable relay degrades the status but still answers 200: requests keep
// flowing with the application's own responses.
func (h *HealthHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), relayPingTimeout)
	defer cancel()

	resp := map[string]any{
		"status":          "ok",
		"version":         string(h.version),
		"app_url":         h.cfg.App.BaseURL,
		"relay_addr":      h.relay.Addr(),
		"relay_reachable": true,
	}
	if err := h.relay.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["relay_reachable"] = false
		resp["relay_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}
