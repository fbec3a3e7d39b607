// Package api provides the HTTP server for the aggregator.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chronicle-io/chronicle/internal/api/middleware"
	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/event"
)

// handleEvents returns processed events, newest first. An optional ?topic
// query parameter narrows the result to one topic.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []event.Event
		err    error
	)

	if topic := r.URL.Query().Get("topic"); topic != "" {
		if s.resolver != nil {
			topic = s.resolver.Resolve(topic)
		}

		events, err = s.store.EventsByTopic(r.Context(), topic)
	} else {
		events, err = s.store.AllEvents(r.Context())
	}

	if err != nil {
		s.logger.Error("Failed to query events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, EventsResponse{
		Count:  len(events),
		Events: events,
	})
}

// handleStats returns the aggregator's processing counters, topic list, and
// uptime in seconds.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to query stats",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query stats"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, stats)
}

// handleAuditLogs returns filtered audit trail records, newest first.
// Supported query parameters: action, topic, event_id, from, to, limit.
// Malformed parameter values are rejected with 422.
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, problem := parseAuditFilter(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	records, err := s.store.AuditLogs(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to query audit logs",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query audit logs"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, AuditResponse{
		Count:     len(records),
		AuditLogs: records,
	})
}

// handleAuditSummary returns audit counts aggregated overall, per topic, and
// per worker.
func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.AuditSummary(r.Context())
	if err != nil {
		s.logger.Error("Failed to query audit summary",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query audit summary"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, summary)
}

// parseAuditFilter builds an audit.Filter from the request's query string,
// returning a 422 problem for any value it cannot interpret.
func parseAuditFilter(r *http.Request) (audit.Filter, *ProblemDetail) {
	query := r.URL.Query()

	filter := audit.Filter{
		Topic:   query.Get("topic"),
		EventID: query.Get("event_id"),
	}

	if raw := query.Get("action"); raw != "" {
		action, err := audit.ParseAction(raw)
		if err != nil {
			return audit.Filter{}, UnprocessableEntity(err.Error())
		}

		filter.Action = action
	}

	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, UnprocessableEntity("from must be an ISO-8601 timestamp")
		}

		filter.From = &from
	}

	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, UnprocessableEntity("to must be an ISO-8601 timestamp")
		}

		filter.To = &to
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, UnprocessableEntity("limit must be an integer")
		}

		filter.Limit = limit
	}

	return filter, nil
}
