// Package envelope encodes request snapshots for the relay and decodes the
// relay's replies.
//
// Two encodings meet here. Snapshot text fields travel as JSON strings, while
// binary payloads (request bodies, the application's response, the relay's
// reply) always cross the channel as standard base64.
package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"relay-proxy-go/internal/model"
)

// Terminator ends every message on the relay channel.
const Terminator = '\n'

const (
	typePing = "ping"
	typePong = "pong"
)

// ErrMalformedReply is returned when a reply frame is not valid base64.
var ErrMalformedReply = errors.New("malformed relay reply")

// Encode renders snap as a web envelope with appBody as its buffer. The
// result carries no terminator.
func Encode(snap model.Snapshot, appBody []byte) ([]byte, error) {
	snap.Buffer = base64.StdEncoding.EncodeToString(appBody)
	doc, err := json.Marshal(model.Envelope{Type: model.EnvelopeTypeWeb, Data: snap})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return doc, nil
}

// Parse decodes an envelope document, tolerating a trailing terminator.
func Parse(doc []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(bytes.TrimRight(doc, "\r\n"), &env); err != nil {
		return model.Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return env, nil
}

// Buffer returns the decoded application response carried by env.
func Buffer(env model.Envelope) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(env.Data.Buffer)
	if err != nil {
		return nil, fmt.Errorf("decode buffer: %w", err)
	}
	return b, nil
}

// DecodeReply base64-decodes a reply frame. Everything from the first
// terminator on is ignored, as is surrounding whitespace.
func DecodeReply(frame []byte) ([]byte, error) {
	if i := bytes.IndexByte(frame, Terminator); i >= 0 {
		frame = frame[:i]
	}
	frame = bytes.TrimSpace(frame)
	out := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(out, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return out[:n], nil
}

// EncodeReply frames body the way a relay answers a web envelope.
func EncodeReply(body []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(body))+1)
	base64.StdEncoding.Encode(out, body)
	out[len(out)-1] = Terminator
	return out
}

type control struct {
	Type string `json:"type"`
	Data []any  `json:"data"`
}

// Ping returns the liveness ping message, terminator included.
func Ping() []byte {
	return controlMessage(typePing)
}

// Pong returns the answer to Ping, terminator included.
func Pong() []byte {
	return controlMessage(typePong)
}

// IsPong reports whether line is a pong message.
func IsPong(line []byte) bool {
	return messageType(line) == typePong
}

// IsPing reports whether line is a ping message.
func IsPing(line []byte) bool {
	return messageType(line) == typePing
}

func messageType(line []byte) string {
	var c control
	if err := json.Unmarshal(bytes.TrimSpace(line), &c); err != nil {
		return ""
	}
	return c.Type
}

func controlMessage(typ string) []byte {
	// Marshal of a fixed struct cannot fail.
	b, _ := json.Marshal(control{Type: typ, Data: []any{}})
	return append(b, Terminator)
}
