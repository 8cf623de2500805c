// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to the wrapped application.
type ProxyRequest struct {
	Ctx        context.Context
	Method     string
	Path       string
	RawPath    string // escaped form of Path as sent by the client
	RawQuery   string // forwarded verbatim, never re-encoded
	Header     http.Header
	Host       string
	RemoteAddr string
	TLS        bool

	Body          io.Reader
	ContentLength int64
}

// ProxyResponse represents the application's response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
