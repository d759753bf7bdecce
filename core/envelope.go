package core

import "time"

// Metadata carries transport-level information for an envelope.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the wire shape sent on the low-latency channel. The durable row
// is the source of truth; an envelope is only a notification that the row
// exists.
type Envelope struct {
	ID        string         `json:"id"`
	DurableID string         `json:"durableId"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Content   map[string]any `json:"content"`
	Metadata  Metadata       `json:"metadata"`

	// Reply envelopes carry a correlation id under either key.
	RequestID string `json:"requestId,omitempty"`
	InReplyTo string `json:"inReplyTo,omitempty"`
}

// CorrelationID extracts the correlation id from a reply envelope. Both the
// top-level fields and the equivalent content keys are accepted. Returns ""
// when the envelope carries no correlation id.
func (e *Envelope) CorrelationID() string {
	if e.RequestID != "" {
		return e.RequestID
	}

	if e.InReplyTo != "" {
		return e.InReplyTo
	}

	for _, key := range []string{"requestId", "inReplyTo"} {
		if v, ok := e.Content[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}
