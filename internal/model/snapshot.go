package model

// EnvelopeTypeWeb tags envelopes that describe one HTTP request.
const EnvelopeTypeWeb = "web"

// Snapshot is the structured view of one inbound request together with the
// response the wrapped application produced for it. Binary fields hold
// base64 text.
type Snapshot struct {
	Script string            `json:"script"`
	Method string            `json:"method"`
	Type   string            `json:"type"`
	URI    string            `json:"uri"`
	Remote string            `json:"remote"`
	Header map[string]string `json:"header"`
	Get    map[string]string `json:"get"`
	Post   map[string]string `json:"post"`
	Cookie map[string]string `json:"cookie"`
	File   []string          `json:"file"`
	Buffer string            `json:"buffer"`
}

// Envelope is the single document sent to the relay per request.
type Envelope struct {
	Type string   `json:"type"`
	Data Snapshot `json:"data"`
}
