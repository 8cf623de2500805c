// Package bodyreader bounds reads from a request body to a declared length.
package bodyreader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBuffer is the default ceiling for the carry-over buffer.
const DefaultMaxBuffer = 64 * 1024 * 1024

// lineChunk caps a single source read while scanning for a line terminator.
const lineChunk = 64 * 1024

// ErrBodyRead wraps failures of the underlying source. End of stream is not
// an error.
var ErrBodyRead = errors.New("read request body")

// Option configures a Reader.
type Option func(*Reader)

// WithMaxBuffer sets the carry-over buffer ceiling. Values <= 0 keep the default.
func WithMaxBuffer(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxBuf = n
		}
	}
}

// Reader wraps a source and refuses to yield more than limit bytes from it.
// It is not safe for concurrent use.
type Reader struct {
	src       io.Reader
	remaining int64
	buf       []byte
	maxBuf    int
}

// New returns a Reader that reads at most limit bytes from src.
func New(src io.Reader, limit int64, opts ...Option) *Reader {
	if limit < 0 {
		limit = 0
	}
	r := &Reader{src: src, remaining: limit, maxBuf: DefaultMaxBuffer}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Remaining returns the unread quota on the source.
func (r *Reader) Remaining() int64 { return r.remaining }

// Buffered returns the number of carried-over bytes.
func (r *Reader) Buffered() int { return len(r.buf) }

// readLimited reads up to n bytes (n < 0 means all) from the source, never
// past the remaining quota. A short read exhausts the quota.
func (r *Reader) readLimited(n int64) ([]byte, error) {
	if n < 0 || n > r.remaining {
		n = r.remaining
	}
	if n == 0 {
		return nil, nil
	}
	p, err := io.ReadAll(io.LimitReader(r.src, n))
	r.remaining -= int64(len(p))
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	if int64(len(p)) < n {
		r.remaining = 0
	}
	return p, nil
}

// ReadAll returns the buffered bytes followed by everything left in the quota.
func (r *Reader) ReadAll() ([]byte, error) {
	rest, err := r.readLimited(-1)
	out := append(r.takeBuffer(), rest...)
	return out, err
}

// ReadN returns exactly n bytes, or fewer at end of stream. When n is smaller
// than the buffered amount the source is not touched. A negative n behaves
// like ReadAll.
func (r *Reader) ReadN(n int) ([]byte, error) {
	if n < 0 {
		return r.ReadAll()
	}
	if n < len(r.buf) {
		out := bytes.Clone(r.buf[:n])
		r.buf = r.buf[n:]
		return out, nil
	}
	more, err := r.readLimited(int64(n - len(r.buf)))
	out := append(r.takeBuffer(), more...)
	return out, err
}

// ReadLine returns one line including its '\n' terminator. When size > 0 the
// line is at most size bytes. The final line of the bounded stream may lack
// a terminator. Bytes past the returned line stay buffered.
func (r *Reader) ReadLine(size int) ([]byte, error) {
	var err error
	for bytes.IndexByte(r.buf, '\n') < 0 && (size <= 0 || len(r.buf) < size) && len(r.buf) < r.maxBuf {
		want := min(r.maxBuf-len(r.buf), lineChunk)
		if size > 0 {
			want = min(want, size-len(r.buf))
		}
		var chunk []byte
		chunk, err = r.readLimited(int64(want))
		r.buf = append(r.buf, chunk...)
		if err != nil || len(chunk) == 0 {
			break
		}
	}

	end := len(r.buf)
	if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
		end = i + 1
	}
	if size > 0 && end > size {
		end = size
	}
	line := bytes.Clone(r.buf[:end])
	r.buf = r.buf[end:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return line, err
}

// Read implements io.Reader over the buffer and the remaining quota.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.buf = r.buf[n:]
		return n, nil
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.Read(p)
	r.remaining -= int64(n)
	switch {
	case errors.Is(err, io.EOF):
		r.remaining = 0
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	case err != nil:
		return n, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	return n, nil
}

func (r *Reader) takeBuffer() []byte {
	b := r.buf
	r.buf = nil
	return b
}
