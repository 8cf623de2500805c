package intercept

import (
	"bytes"
	"net/http"
)

// capture is the ResponseWriter handed to the wrapped application. Nothing
// reaches the client through it: WriteHeader records the status and freezes
// the headers, Write appends to the body.
type capture struct {
	header      http.Header
	sent        http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: http.Header{}}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = code
	c.sent = c.header.Clone()
}

func (c *capture) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(p)
}

// Flush is a no-op; the body is only released once the relay has answered.
func (c *capture) Flush() {}

// result returns the status and headers the application started its
// response with, defaulting to 200 and the current header map.
func (c *capture) result() (int, http.Header) {
	if !c.wroteHeader {
		return http.StatusOK, c.header.Clone()
	}
	return c.status, c.sent
}
