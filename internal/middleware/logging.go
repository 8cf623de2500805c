// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
)

// RequestLogger returns an Echo middleware that writes one access record per
// request. Server errors log at error level and client errors at warn.
// Health and status checks log at debug so they do not drown the access log.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			status := res.Status
			if err != nil {
				// Echo renders returned errors after the middleware chain.
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("host", req.Host),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_in", req.ContentLength),
				slog.Int64("bytes_out", res.Size),
			}
			if err != nil {
				attrs = append(attrs, slog.String("err", err.Error()))
			}
			logger.LogAttrs(context.Background(), accessLevel(req.URL.Path, status), "request", attrs...)

			return err
		}
	}
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == config.HealthzPath || path == config.StatusPath:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
