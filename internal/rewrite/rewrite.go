// Package rewrite finalizes a response whose body was replaced after the
// headers were produced.
package rewrite

import (
	"errors"
	"net/http"
	"strconv"
)

// ErrAlreadyCommitted is returned by Commit after the response was started.
var ErrAlreadyCommitted = errors.New("response already committed")

// Headers returns a copy of orig in which an existing Content-Length entry
// carries bodyLen. Other headers are copied verbatim and orig is not modified.
func Headers(orig http.Header, bodyLen int) http.Header {
	h := orig.Clone()
	if h == nil {
		h = http.Header{}
	}
	if _, ok := h["Content-Length"]; ok {
		h["Content-Length"] = []string{strconv.Itoa(bodyLen)}
	}
	return h
}

// BodyAllowed reports whether a response to method with status carries a
// body. HEAD responses and 1xx, 204 and 304 statuses never do, so their
// Content-Length describes a body that is not sent and must not be rewritten.
func BodyAllowed(method string, status int) bool {
	switch {
	case method == http.MethodHead:
		return false
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// Writer starts the downstream response exactly once.
type Writer struct {
	w         http.ResponseWriter
	method    string
	committed bool
}

// NewWriter wraps the downstream response writer for a request with method.
func NewWriter(w http.ResponseWriter, method string) *Writer {
	return &Writer{w: w, method: method}
}

// Committed reports whether Commit has run.
func (rw *Writer) Committed() bool { return rw.committed }

// Commit writes the rewritten headers, the status and body. Only the first
// call has any effect. For bodyless responses the headers are sent as the
// application produced them and body is dropped.
func (rw *Writer) Commit(status int, header http.Header, body []byte) error {
	if rw.committed {
		return ErrAlreadyCommitted
	}
	rw.committed = true

	if status == 0 {
		status = http.StatusOK
	}
	bodyAllowed := BodyAllowed(rw.method, status)

	out := header.Clone()
	if bodyAllowed {
		out = Headers(header, len(body))
	}
	dst := rw.w.Header()
	for k, vals := range out {
		dst[k] = vals
	}
	rw.w.WriteHeader(status)
	if !bodyAllowed {
		return nil
	}
	if _, err := rw.w.Write(body); err != nil {
		return err
	}
	return nil
}
