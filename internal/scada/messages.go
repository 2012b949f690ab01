package scada

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message discriminants used by the broker.
const (
	msgTypeNotifyTag      = "notify_tag"
	msgTypeSetTagResponse = "settag_response"
)

// envelope is the outer wire frame. The broker double-encodes: the
// Message field is itself a JSON document in string form. This nesting
// is a fixed broker contract - do not flatten it.
type envelope struct {
	Message string `json:"message"`
}

// inboundPayload is the union of fields the broker sends in the inner
// document. notify_tag uses Type/Tag/Value/Time; settag_response uses
// MessageType/Status/TagFullname.
type inboundPayload struct {
	Type        string `json:"type,omitempty"`
	MessageType string `json:"message_type,omitempty"`

	// notify_tag fields
	Tag   string `json:"tag,omitempty"`
	Value any    `json:"value,omitempty"`
	Time  string `json:"time,omitempty"`

	// settag_response fields
	Status      string `json:"status,omitempty"`
	TagFullname string `json:"tag_fullname,omitempty"`
}

// addTagsPayload subscribes the session to additional tags.
type addTagsPayload struct {
	Type string   `json:"type"`
	Tags []string `json:"tags"`
}

// setTagPayload writes a value to a single tag.
type setTagPayload struct {
	Type  string `json:"type"`
	Tag   string `json:"tag"`
	Value any    `json:"value"`
}

// TagUpdate is a fact asserted by the broker: one tag observed at one
// value at one point in time. Value is untyped at this boundary;
// coercion is the bridge's concern.
type TagUpdate struct {
	Tag        string
	Value      any
	ObservedAt time.Time
}

// encodeEnvelope marshals an inner payload and wraps it in the outer
// envelope, producing the double-encoded wire bytes.
func encodeEnvelope(payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding inner payload: %w", err)
	}

	outer, err := json.Marshal(envelope{Message: string(inner)})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	return outer, nil
}

// decodeEnvelope unwraps the outer envelope and parses the inner
// document. Returns ErrParseFailed (wrapped) on either layer failing.
func decodeEnvelope(data []byte) (inboundPayload, error) {
	var outer envelope
	if err := json.Unmarshal(data, &outer); err != nil {
		return inboundPayload{}, fmt.Errorf("%w: outer: %w", ErrParseFailed, err)
	}

	var inner inboundPayload
	if err := json.Unmarshal([]byte(outer.Message), &inner); err != nil {
		return inboundPayload{}, fmt.Errorf("%w: inner: %w", ErrParseFailed, err)
	}

	return inner, nil
}

// parseObservedAt converts the broker's time field to a time.Time.
// Falls back to the local clock when the field is absent or malformed -
// a late timestamp is better than no event.
func parseObservedAt(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now()
}
