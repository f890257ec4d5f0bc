package connmgr

import "encoding/json"

// Envelope is the wire shape every frame carries in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope, panicking only on a
// programmer error (a payload type containing a channel, func, or cyclic
// structure) — every call site passes a known-good struct.
func NewEnvelope(eventType string, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: eventType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic("connmgr: marshaling envelope payload for " + eventType + ": " + err.Error())
	}
	return Envelope{Type: eventType, Payload: data}
}
