// Package relay implements the client side of the relay channel: one TCP
// connection per message, a newline-terminated request and a
// newline-terminated reply, all within a single deadline.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/envelope"
	"relay-proxy-go/internal/metrics"
)

const readChunk = 1024

var (
	// ErrRelayTimeout is returned when no complete reply arrives in time.
	ErrRelayTimeout = errors.New("relay timeout")
	// ErrRelayConnection is returned when the relay cannot be reached or
	// drops the connection before a complete reply.
	ErrRelayConnection = errors.New("relay connection error")
	// ErrReplyTooLarge is returned when the reply exceeds the buffer ceiling.
	ErrReplyTooLarge = errors.New("relay reply too large")
	// ErrUnexpectedReply is returned when a ping is not answered with pong.
	ErrUnexpectedReply = errors.New("unexpected relay reply")
)

// Client talks to the relay endpoint.
type Client struct {
	addr     string
	timeout  time.Duration
	maxReply int
	dialer   *net.Dialer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewClient creates a Client for the configured relay endpoint.
// The metrics parameter is optional; pass nil to disable relay metrics recording.
func NewClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		addr:     cfg.Relay.Addr(),
		timeout:  cfg.Relay.Timeout(),
		maxReply: cfg.Relay.BufferMax(),
		dialer:   &net.Dialer{},
		logger:   logger.With("component", "relay_client"),
		metrics:  m,
	}
}

// Addr returns the relay endpoint address.
func (c *Client) Addr() string { return c.addr }

// Send writes env followed by a newline and returns the decoded reply.
// The connection is closed before Send returns.
func (c *Client) Send(ctx context.Context, env []byte) ([]byte, error) {
	start := time.Now()

	frame, err := c.exchange(ctx, env)
	var reply []byte
	if err == nil {
		reply, err = envelope.DecodeReply(frame)
	}

	c.record(start, err)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("relay reply",
		"envelope_bytes", len(env),
		"reply_bytes", len(reply),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// Ping checks that the relay answers the liveness ping.
func (c *Client) Ping(ctx context.Context) error {
	ping := envelope.Ping()
	frame, err := c.exchange(ctx, ping[:len(ping)-1])
	if err != nil {
		return err
	}
	if !envelope.IsPong(frame) {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, bytes.TrimSpace(frame))
	}
	return nil
}

// exchange performs one framed round trip and returns the raw reply frame,
// terminator included.
func (c *Client) exchange(ctx context.Context, msg []byte) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, classify("dial", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, classify("set deadline", err)
	}

	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	out = append(out, envelope.Terminator)
	if _, err := conn.Write(out); err != nil {
		return nil, classify("write", err)
	}

	return c.readFrame(conn)
}

// readFrame reads until a terminator appears anywhere in the received bytes.
func (c *Client) readFrame(conn net.Conn) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if bytes.IndexByte(chunk[:n], envelope.Terminator) >= 0 {
			return buf, nil
		}
		if len(buf) > c.maxReply {
			return nil, fmt.Errorf("%w: more than %d bytes without terminator", ErrReplyTooLarge, c.maxReply)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: closed after %d bytes without terminator", ErrRelayConnection, len(buf))
			}
			return nil, classify("read", err)
		}
	}
}

func (c *Client) record(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := Outcome(err)
	c.metrics.RelayRequests.WithLabelValues(outcome).Inc()
	c.metrics.RelayDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Outcome maps a Send error to its metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrRelayTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrReplyTooLarge):
		return metrics.OutcomeTooLarge
	case errors.Is(err, ErrRelayConnection):
		return metrics.OutcomeConnectionError
	default:
		return metrics.OutcomeProtocolError
	}
}

// classify wraps a network error in ErrRelayTimeout or ErrRelayConnection.
func classify(op string, err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrRelayTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRelayConnection, op, err)
}
