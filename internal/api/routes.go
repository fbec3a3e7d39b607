// Package api provides the HTTP server for the aggregator.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chronicle-io/chronicle/internal/api/middleware"
)

const healthCheckTimeout = 2 * time.Second

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Ingestion
	mux.HandleFunc("POST /publish", s.handlePublish)

	// Read projections
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /audit", s.handleAuditLogs)
	mux.HandleFunc("GET /audit/summary", s.handleAuditSummary)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth) // liveness: process is up
	mux.HandleFunc("GET /ready", s.handleReady)   // readiness: store and broker respond

	// Root banner and catch-all 404
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound)
}

// writeJSON marshals v and writes it with the given status. Marshal failures
// become RFC 7807 500s; write failures after headers are sent are only logged.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// handleRoot returns the service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, RootResponse{
		Message: "Chronicle event aggregator is running",
	})
}

// handleHealth is the liveness probe: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, StatusResponse{Status: "healthy"})
}

// handleReady is the readiness probe: 200 only when both the store and the
// broker respond within the health check timeout.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Store health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Event store is unavailable"))

		return
	}

	if err := s.queue.Ping(ctx); err != nil {
		s.logger.Error("Broker health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Broker is unavailable"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
