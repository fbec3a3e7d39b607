// Package event defines the domain model for events flowing through the
// aggregator: producer-assigned identity, topic scoping, and an open-schema
// payload that preserves unknown fields verbatim.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for payload decoding failures.
var (
	// ErrPayloadMissingMessage is returned when a payload has no "message" field.
	ErrPayloadMissingMessage = errors.New("payload.message is required")

	// ErrPayloadMissingTimestamp is returned when a payload has no "timestamp" field.
	ErrPayloadMissingTimestamp = errors.New("payload.timestamp is required")

	// ErrPayloadInvalidTimestamp is returned when payload.timestamp is not ISO-8601.
	ErrPayloadInvalidTimestamp = errors.New("payload.timestamp must be an ISO-8601 timestamp")
)

type (
	// Event is the unit of ingestion. The (Topic, EventID) pair is the
	// deduplication key; the same EventID may coexist under different topics.
	//
	// Timestamp is event-authored time supplied by the producer, distinct from
	// the ingest instant recorded by the store.
	Event struct {
		EventID   string    `json:"event_id"`  //nolint: tagliatelle
		Topic     string    `json:"topic"`
		Source    string    `json:"source"`
		Payload   Payload   `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Payload is the typed shell of an event payload: a required message and
	// timestamp plus arbitrary extra fields carried verbatim. Extra fields are
	// kept as raw JSON so they round-trip byte-for-byte through the broker and
	// the store.
	Payload struct {
		Message   string
		Timestamp time.Time
		Extra     map[string]json.RawMessage
	}
)

// MarshalJSON serialises the payload as a flat JSON object: message, timestamp
// (RFC 3339), and every extra field at the top level.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+2)

	for key, value := range p.Extra {
		out[key] = value
	}

	message, err := json.Marshal(p.Message)
	if err != nil {
		return nil, fmt.Errorf("marshal payload message: %w", err)
	}

	timestamp, err := json.Marshal(p.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("marshal payload timestamp: %w", err)
	}

	out["message"] = message
	out["timestamp"] = timestamp

	return json.Marshal(out)
}

// UnmarshalJSON decodes a payload object, requiring message and timestamp and
// collecting every other field untouched into Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage

	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	messageRaw, ok := raw["message"]
	if !ok {
		return ErrPayloadMissingMessage
	}

	if err := json.Unmarshal(messageRaw, &p.Message); err != nil {
		return fmt.Errorf("decode payload message: %w", err)
	}

	timestampRaw, ok := raw["timestamp"]
	if !ok {
		return ErrPayloadMissingTimestamp
	}

	var timestampStr string
	if err := json.Unmarshal(timestampRaw, &timestampStr); err != nil {
		return fmt.Errorf("%w: %w", ErrPayloadInvalidTimestamp, err)
	}

	timestamp, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrPayloadInvalidTimestamp, timestampStr)
	}

	p.Timestamp = timestamp

	delete(raw, "message")
	delete(raw, "timestamp")

	if len(raw) > 0 {
		p.Extra = raw
	} else {
		p.Extra = nil
	}

	return nil
}
