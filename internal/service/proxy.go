// Package service implements the forwarding logic toward the wrapped application.
package service

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/model"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyService forwards client requests to the wrapped application.
type ProxyService struct {
	client  *client.AppClient
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService targeting cfg.App.BaseURL.
func NewProxyService(c *client.AppClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.App.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse app base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("app base_url scheme %q is not http or https", u.Scheme)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Forward sends a ProxyRequest to the application and returns its response.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	appURL := s.buildAppURL(pr.Path, pr.RawPath, pr.RawQuery)
	header := s.filterRequestHeaders(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, appURL, pr.Host, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to app: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildAppURL joins the base URL with the client's path and query. The
// escaped path and raw query are kept byte for byte so the application sees
// the request line the client sent (%2F, bare keys, ';' and key order).
func (s *ProxyService) buildAppURL(p, rawPath, rawQuery string) string {
	u := *s.baseURL
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if rawPath == "" {
		rawPath = (&url.URL{Path: p}).EscapedPath()
	} else if !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + rawPath
	}
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + rawPath
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	u.RawQuery = rawQuery
	u.ForceQuery = false
	return u.String()
}

// filterRequestHeaders copies the end-to-end request headers and appends the
// X-Forwarded-* set. Accept-Encoding is dropped so the application answers
// with an identity body the relay can inspect.
func (s *ProxyService) filterRequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	dst.Del("Accept-Encoding")

	if host, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil {
		if prior := dst.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		dst.Set("X-Forwarded-For", host)
	}
	proto := "http"
	if pr.TLS {
		proto = "https"
	}
	dst.Set("X-Forwarded-Proto", proto)
	if pr.Host != "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		return make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

// removeHopByHop deletes the fixed hop-by-hop set plus any header named in Connection.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
