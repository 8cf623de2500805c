// Package intercept sequences one request through the wrapped application
// and the relay: the application's response is captured, reported to the
// relay, and replaced by the relay's reply before anything reaches the client.
package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/bodyreader"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/envelope"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/relay"
	"relay-proxy-go/internal/rewrite"
	"relay-proxy-go/internal/snapshot"
)

// Relay sends an encoded envelope and returns the decoded reply.
type Relay interface {
	Send(ctx context.Context, env []byte) ([]byte, error)
}

// DefaultBodyMaxBytes is used when Options.BodyMaxBytes is not positive.
const DefaultBodyMaxBytes int64 = 10 << 20

// ErrBodyTooLarge is returned when a request body exceeds Options.BodyMaxBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// Options bounds request body handling.
type Options struct {
	// BodyMaxBytes is the largest accepted request body, declared or not.
	BodyMaxBytes int64
	// BufferMax is the carry-over buffer ceiling of the body reader.
	BufferMax int
}

// Interceptor captures requests and responses and relays them.
type Interceptor struct {
	relay   Relay
	builder *snapshot.Builder
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an Interceptor. The metrics parameter is optional.
func New(r Relay, b *snapshot.Builder, opts Options, logger *slog.Logger, m *metrics.Metrics) *Interceptor {
	return &Interceptor{
		relay:   r,
		builder: b,
		opts:    opts,
		logger:  logger.With("component", "interceptor"),
		metrics: m,
	}
}

// NewFromConfig creates an Interceptor that relays through rc.
func NewFromConfig(cfg *config.Config, rc *relay.Client, logger *slog.Logger, m *metrics.Metrics) (*Interceptor, error) {
	policy, err := snapshot.ParseCookiePolicy(cfg.Relay.CookiePolicy)
	if err != nil {
		return nil, fmt.Errorf("interceptor: %w", err)
	}
	opts := Options{
		BodyMaxBytes: cfg.Server.BodyMaxBytes,
		BufferMax:    cfg.Relay.BufferMax(),
	}
	return New(rc, snapshot.NewBuilder(policy, logger), opts, logger, m), nil
}

// Wrap intercepts every request served by next.
func (i *Interceptor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := i.serve(w, r, next.ServeHTTP); err != nil {
			status, msg := rejection(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
		}
	})
}

// Middleware intercepts the Echo handlers it is attached to. Handler errors
// are rendered by Echo's error handler inside the capture, so they are
// relayed like any other response.
func (i *Interceptor) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			orig := c.Response()
			err := i.serve(orig, c.Request(), func(w http.ResponseWriter, r *http.Request) {
				c.SetRequest(r)
				c.SetResponse(echo.NewResponse(w, c.Echo()))
				if err := next(c); err != nil {
					c.Error(err)
				}
			})
			c.SetResponse(orig)
			if err != nil {
				status, msg := rejection(err)
				return echo.NewHTTPError(status, msg).SetInternal(err)
			}
			return nil
		}
	}
}

// serve runs the full sequence. A returned error means nothing was written
// to w and the request should be rejected.
func (i *Interceptor) serve(w http.ResponseWriter, r *http.Request, app http.HandlerFunc) error {
	body, err := i.readBody(r)
	if errors.Is(err, ErrBodyTooLarge) {
		i.logger.Warn("rejecting request", "err", err, "path", r.URL.Path)
		return err
	}
	if err != nil {
		i.logger.Error("reading request body", "err", err, "path", r.URL.Path)
		return err
	}

	snap, err := i.builder.Build(r, body)
	if err != nil {
		i.logger.Warn("rejecting request", "err", err, "path", r.URL.Path)
		return err
	}

	r.ContentLength = int64(len(body))
	if len(body) == 0 {
		r.Body = http.NoBody
	} else {
		r.Body = io.NopCloser(bodyreader.New(bytes.NewReader(body), r.ContentLength))
	}

	cw := newCapture()
	app(cw, r)
	status, header := cw.result()
	appBody := cw.body.Bytes()

	final := appBody
	reply, err := i.relayResponse(r.Context(), snap, appBody)
	if err != nil {
		i.logger.Warn("relay unavailable, serving application response",
			"err", err,
			"outcome", relay.Outcome(err),
			"path", r.URL.Path,
		)
		if i.metrics != nil {
			i.metrics.RelayFallbacks.Inc()
		}
	} else {
		final = reply
	}

	if err := rewrite.NewWriter(w, r.Method).Commit(status, header, final); err != nil {
		i.logger.Debug("writing response", "err", err, "path", r.URL.Path)
	}
	return nil
}

func (i *Interceptor) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	maxBytes := i.opts.BodyMaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultBodyMaxBytes
	}
	if r.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrBodyTooLarge, r.ContentLength, maxBytes)
	}

	limit := r.ContentLength
	if limit < 0 {
		// One byte past the limit tells a body at the limit from a larger one.
		limit = maxBytes + 1
	}
	body, err := bodyreader.New(r.Body, limit, bodyreader.WithMaxBuffer(i.opts.BufferMax)).ReadAll()
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, maxBytes)
	}
	return body, nil
}

func (i *Interceptor) relayResponse(ctx context.Context, snap model.Snapshot, appBody []byte) ([]byte, error) {
	env, err := envelope.Encode(snap, appBody)
	if err != nil {
		return nil, err
	}
	return i.relay.Send(ctx, env)
}

// rejection maps a pre-response failure to a status and client message.
func rejection(err error) (int, string) {
	var (
		mce *snapshot.MalformedCookieError
		he  *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		// e.g. echo's BodyLimit rejecting an oversized chunked body.
		return he.Code, http.StatusText(he.Code)
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.As(err, &mce):
		return http.StatusBadRequest, "malformed cookie header"
	case errors.Is(err, bodyreader.ErrBodyRead):
		return http.StatusInternalServerError, "failed to read request body"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
