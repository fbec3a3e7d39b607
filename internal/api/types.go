// Package api provides the HTTP server for the aggregator.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/event"
	"github.com/chronicle-io/chronicle/internal/storage"
)

type (
	// PublishRequest is the body of POST /publish.
	PublishRequest struct {
		Events []IncomingEvent `json:"events"`
	}

	// IncomingEvent is the wire form of one event in a publish batch. Fields
	// are pointers so that absent keys are distinguishable from empty values:
	// presence is required, emptiness is the producer's business.
	IncomingEvent struct {
		EventID   *string         `json:"event_id"` //nolint: tagliatelle
		Topic     *string         `json:"topic"`
		Source    *string         `json:"source"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp *string         `json:"timestamp"`
	}

	// PublishResponse is the success body of POST /publish.
	PublishResponse struct {
		Status      string `json:"status"`
		Message     string `json:"message"`
		EventsCount int    `json:"events_count"` //nolint: tagliatelle
	}

	// EventsResponse is the body of GET /events.
	EventsResponse struct {
		Count  int           `json:"count"`
		Events []event.Event `json:"events"`
	}

	// AuditResponse is the body of GET /audit.
	AuditResponse struct {
		Count     int            `json:"count"`
		AuditLogs []audit.Record `json:"audit_logs"` //nolint: tagliatelle
	}

	// StatusResponse is the body of the health and readiness endpoints.
	StatusResponse struct {
		Status string `json:"status"`
	}

	// RootResponse is the body of GET /.
	RootResponse struct {
		Message string `json:"message"`
	}
)

// Aliased here so handlers and their tests share one name for the stats body.
type StatsResponse = storage.Stats

// validate checks presence and format of all required fields, returning the
// decoded domain event. The index is only used to point at the offending
// entry in error messages.
func (e *IncomingEvent) validate(index int) (*event.Event, error) {
	if e.EventID == nil {
		return nil, fmt.Errorf("events[%d].event_id is required", index)
	}

	if e.Topic == nil {
		return nil, fmt.Errorf("events[%d].topic is required", index)
	}

	if e.Source == nil {
		return nil, fmt.Errorf("events[%d].source is required", index)
	}

	if e.Payload == nil {
		return nil, fmt.Errorf("events[%d].payload is required", index)
	}

	var payload event.Payload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		switch {
		case errors.Is(err, event.ErrPayloadMissingMessage):
			return nil, fmt.Errorf("events[%d].payload.message is required", index)
		case errors.Is(err, event.ErrPayloadMissingTimestamp):
			return nil, fmt.Errorf("events[%d].payload.timestamp is required", index)
		case errors.Is(err, event.ErrPayloadInvalidTimestamp):
			return nil, fmt.Errorf("events[%d].payload.timestamp must be an ISO-8601 timestamp", index)
		default:
			return nil, fmt.Errorf("events[%d].payload is not a JSON object", index)
		}
	}

	if e.Timestamp == nil {
		return nil, fmt.Errorf("events[%d].timestamp is required", index)
	}

	timestamp, err := time.Parse(time.RFC3339, *e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("events[%d].timestamp must be an ISO-8601 timestamp", index)
	}

	return &event.Event{
		EventID:   *e.EventID,
		Topic:     *e.Topic,
		Source:    *e.Source,
		Payload:   payload,
		Timestamp: timestamp,
	}, nil
}
