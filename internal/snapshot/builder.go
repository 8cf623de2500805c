// Package snapshot builds the structured view of an inbound request that is
// reported to the relay.
package snapshot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"relay-proxy-go/internal/model"
)

const formMediaType = "application/x-www-form-urlencoded"

// CookiePolicy decides what happens to a malformed cookie segment.
type CookiePolicy int

const (
	// CookiePolicySkip drops malformed segments and logs a warning.
	CookiePolicySkip CookiePolicy = iota
	// CookiePolicyStrict fails the snapshot on the first malformed segment.
	CookiePolicyStrict
)

// ParseCookiePolicy maps a config value to a CookiePolicy.
func ParseCookiePolicy(s string) (CookiePolicy, error) {
	switch strings.ToLower(s) {
	case "", "skip":
		return CookiePolicySkip, nil
	case "strict":
		return CookiePolicyStrict, nil
	}
	return CookiePolicySkip, fmt.Errorf("unknown cookie policy %q", s)
}

// MalformedCookieError reports a cookie segment without a name=value pair.
type MalformedCookieError struct {
	Segment string
}

func (e *MalformedCookieError) Error() string {
	return fmt.Sprintf("malformed cookie segment %q", e.Segment)
}

// Builder turns an *http.Request into a model.Snapshot.
type Builder struct {
	policy CookiePolicy
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(policy CookiePolicy, logger *slog.Logger) *Builder {
	return &Builder{
		policy: policy,
		logger: logger.With("component", "snapshot"),
	}
}

// Build captures r. body is the complete request body, already bounded by the
// caller. The returned snapshot has an empty Buffer; the envelope codec fills
// it. An error is returned only for malformed cookies under CookiePolicyStrict.
func (b *Builder) Build(r *http.Request, body []byte) (model.Snapshot, error) {
	cookies, err := ParseCookies(strings.Join(r.Header.Values("Cookie"), "; "))
	if err != nil {
		if b.policy == CookiePolicyStrict {
			return model.Snapshot{}, err
		}
		b.logger.Warn("skipping malformed cookies", "err", err, "path", r.URL.Path)
	}

	uri := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}

	contentType := r.Header.Get("Content-Type")
	snap := model.Snapshot{
		Script: text(r.URL.Path),
		Method: r.Method,
		Type:   text(contentType),
		URI:    text(uri),
		Remote: remoteHost(r.RemoteAddr),
		Header: headers(r),
		Get:    firstValues(r.URL.RawQuery),
		Post:   map[string]string{},
		Cookie: cookies,
		File:   []string{},
	}

	// Anything that is not a form is one opaque file, even when empty.
	if isForm(contentType) {
		snap.Post = firstValues(string(body))
	} else {
		snap.File = []string{base64.StdEncoding.EncodeToString(body)}
	}

	return snap, nil
}

// ParseCookies splits a Cookie header on ';' and each segment on its first
// '='. Name and value are trimmed. Empty segments are ignored. Well-formed
// pairs are always returned; malformed segments are reported together as
// *MalformedCookieError values joined into the error.
func ParseCookies(raw string) (map[string]string, error) {
	cookies := map[string]string{}
	var errs []error
	for _, seg := range strings.Split(raw, ";") {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		name, value, ok := strings.Cut(seg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			errs = append(errs, &MalformedCookieError{Segment: strings.TrimSpace(seg)})
			continue
		}
		cookies[text(name)] = text(strings.TrimSpace(value))
	}
	return cookies, errors.Join(errs...)
}

// firstValues decodes key=value&... keeping the first value of a repeated key.
// Only '&' separates pairs, so "x=1;y=2" is key x with value "1;y=2". A bare
// key maps to "". A component that fails to unescape is kept as sent.
func firstValues(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k, v = unescape(k), unescape(v)
		if _, seen := out[k]; !seen {
			out[k] = v
		}
	}
	return out
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		s = u
	}
	return text(s)
}

// cgiExcluded are request headers CGI reports as CONTENT_TYPE and
// CONTENT_LENGTH rather than HTTP_* variables. The content type is carried
// in Snapshot.Type instead.
var cgiExcluded = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
}

func headers(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for k, v := range r.Header {
		name := http.CanonicalHeaderKey(k)
		if cgiExcluded[name] {
			continue
		}
		out[text(name)] = text(strings.Join(v, ", "))
	}
	if r.Host != "" {
		out["Host"] = text(r.Host)
	}
	return out
}

func isForm(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == formMediaType
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// text returns s unchanged when it is valid UTF-8, and its base64 encoding
// otherwise, so the JSON encoder never substitutes replacement characters.
func text(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}
