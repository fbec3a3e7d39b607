// Package api provides the HTTP server for the aggregator.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/chronicle-io/chronicle/internal/api/middleware"
	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/event"
)

// handlePublish accepts a batch of events and enqueues them for asynchronous
// processing. The whole batch is validated before any event is touched: a
// single malformed entry rejects the batch with 422 and no side effects.
// Accepted events are audited as RECEIVED, pushed onto the broker queue, and
// audited as QUEUED, strictly in batch order. Broker or store failures abort
// the batch with 500; events already enqueued stay enqueued.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger,
			UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.logger.Error("Failed to read request body",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, BadRequest("Failed to read request body"))

		return
	}

	if int64(len(body)) > s.config.MaxRequestSize {
		WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize)))

		return
	}

	var req PublishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteErrorResponse(w, r, s.logger,
			UnprocessableEntity("Request body is not a valid publish request"))

		return
	}

	// Validate every event up front. Nothing is enqueued until the whole
	// batch is known to be well-formed.
	events := make([]*event.Event, 0, len(req.Events))

	for i := range req.Events {
		evt, err := req.Events[i].validate(i)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

			return
		}

		events = append(events, evt)
	}

	for _, evt := range events {
		if s.resolver != nil {
			evt.Topic = s.resolver.Resolve(evt.Topic)
		}

		if _, err := s.store.LogAudit(
			r.Context(), evt.EventID, evt.Topic, evt.Source, audit.ActionReceived, nil,
		); err != nil {
			s.publishFailed(w, r, correlationID, evt, "Failed to record event receipt", err)

			return
		}

		if err := s.queue.Push(r.Context(), evt); err != nil {
			s.publishFailed(w, r, correlationID, evt, "Failed to enqueue event", err)

			return
		}

		if _, err := s.store.LogAudit(
			r.Context(), evt.EventID, evt.Topic, evt.Source, audit.ActionQueued, nil,
		); err != nil {
			s.publishFailed(w, r, correlationID, evt, "Failed to record event enqueue", err)

			return
		}
	}

	s.logger.Info("Published event batch",
		slog.String("correlation_id", correlationID),
		slog.Int("events_count", len(events)),
	)

	s.writeJSON(w, r, http.StatusOK, PublishResponse{
		Status:      "success",
		Message:     fmt.Sprintf("%d event(s) accepted for processing", len(events)),
		EventsCount: len(events),
	})
}

// publishFailed logs an ingestion infrastructure failure and writes the 500.
func (s *Server) publishFailed(
	w http.ResponseWriter,
	r *http.Request,
	correlationID string,
	evt *event.Event,
	detail string,
	err error,
) {
	s.logger.Error(detail,
		slog.String("correlation_id", correlationID),
		slog.String("event_id", evt.EventID),
		slog.String("topic", evt.Topic),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, InternalServerError(detail))
}
