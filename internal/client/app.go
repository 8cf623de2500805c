// Package client provides the HTTP client for the wrapped application.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// AppClient sends requests to the wrapped application.
type AppClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAppClient creates an AppClient with connection pooling and timeouts.
// Redirects are returned to the caller rather than followed, and responses
// are never transparently decompressed, so the captured body is exactly what
// the application sent.
// The metrics parameter is optional; pass nil to disable application metrics recording.
func NewAppClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *AppClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.App.IdleConnections,
		MaxIdleConnsPerHost: cfg.App.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &AppClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.App.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "app_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the application and returns the raw response.
// The caller is responsible for closing the response body.
func (c *AppClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("app request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.AppDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("app request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.AppDuration.WithLabelValues(method).Observe(duration)
		c.metrics.AppResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the application request.
// host, when non-empty, is sent as the Host header.
func (c *AppClient) DoStream(ctx context.Context, method, url, host string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build app request: %w", err)
	}
	req.Header = header
	if host != "" {
		req.Host = host
	}
	if body != nil && body != http.NoBody {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}
