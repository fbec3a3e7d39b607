package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/event"
	"github.com/chronicle-io/chronicle/internal/storage"
)

// fakeStore is an in-memory Store implementation recording every call.
type fakeStore struct {
	mu sync.Mutex

	events  []event.Event
	stats   *storage.Stats
	records []audit.Record
	summary *audit.Summary

	auditCalls []audit.Record // LogAudit invocations, in order
	lastFilter audit.Filter
	lastTopic  string

	logAuditErr error
	queryErr    error
	healthErr   error
}

func (s *fakeStore) AllEvents(_ context.Context) ([]event.Event, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	return s.events, nil
}

func (s *fakeStore) EventsByTopic(_ context.Context, topic string) ([]event.Event, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	s.mu.Lock()
	s.lastTopic = topic
	s.mu.Unlock()

	var matched []event.Event

	for _, evt := range s.events {
		if evt.Topic == topic {
			matched = append(matched, evt)
		}
	}

	return matched, nil
}

func (s *fakeStore) Stats(_ context.Context) (*storage.Stats, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	return s.stats, nil
}

func (s *fakeStore) AuditLogs(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	s.mu.Lock()
	s.lastFilter = filter
	s.mu.Unlock()

	return s.records, nil
}

func (s *fakeStore) AuditSummary(_ context.Context) (*audit.Summary, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	return s.summary, nil
}

func (s *fakeStore) LogAudit(
	_ context.Context,
	eventID, topic, source string,
	action audit.Action,
	workerID *int,
) (audit.Record, error) {
	if s.logAuditErr != nil {
		return audit.Record{}, s.logAuditErr
	}

	record := audit.Record{
		ID:        int64(len(s.auditCalls) + 1),
		EventID:   eventID,
		Topic:     topic,
		Source:    source,
		Action:    action,
		WorkerID:  workerID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.auditCalls = append(s.auditCalls, record)
	s.mu.Unlock()

	return record, nil
}

func (s *fakeStore) HealthCheck(_ context.Context) error {
	return s.healthErr
}

// fakeQueue is an in-memory Queue implementation.
type fakeQueue struct {
	mu      sync.Mutex
	pushed  []*event.Event
	pushErr error
	pingErr error
}

func (q *fakeQueue) Push(_ context.Context, evt *event.Event) error {
	if q.pushErr != nil {
		return q.pushErr
	}

	q.mu.Lock()
	q.pushed = append(q.pushed, evt)
	q.mu.Unlock()

	return nil
}

func (q *fakeQueue) Ping(_ context.Context) error {
	return q.pingErr
}

// fakeResolver maps topics through a fixed table, identity otherwise.
type fakeResolver struct {
	aliases map[string]string
}

func (r *fakeResolver) Resolve(topic string) string {
	if canonical, ok := r.aliases[topic]; ok {
		return canonical
	}

	return topic
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:               8080,
		Host:               "127.0.0.1",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           slog.LevelError,
		MaxRequestSize:     defaultMaxRequestSize,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type"},
		CORSMaxAge:         86400,
	}
}

// newTestHandler builds the full server handler (middleware included) over fakes.
func newTestHandler(t *testing.T, store Store, queue Queue, resolver TopicResolver) http.Handler {
	t.Helper()

	server := NewServer(testServerConfig(), store, queue, resolver, nil)

	return server.httpServer.Handler
}

func publishBody(t *testing.T, events ...map[string]any) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{"events": events})
	require.NoError(t, err)

	return body
}

func validIncomingEvent(eventID, topic string) map[string]any {
	return map[string]any{
		"event_id":  eventID,
		"topic":     topic,
		"source":    "svc-a",
		"timestamp": "2026-08-24T10:00:00Z",
		"payload": map[string]any{
			"message":   "disk usage high",
			"timestamp": "2026-08-24T09:59:58Z",
			"level":     "warning",
		},
	}
}

func doJSON(handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestHandlePublish(t *testing.T) {
	t.Run("accepts a batch and audits each event twice", func(t *testing.T) {
		store := &fakeStore{}
		queue := &fakeQueue{}
		handler := newTestHandler(t, store, queue, nil)

		body := publishBody(t,
			validIncomingEvent("evt-1", "logs.app"),
			validIncomingEvent("evt-2", "logs.db"),
		)

		rec := doJSON(handler, http.MethodPost, "/publish", body)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PublishResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, 2, resp.EventsCount)

		require.Len(t, queue.pushed, 2)
		assert.Equal(t, "evt-1", queue.pushed[0].EventID)
		assert.Equal(t, "evt-2", queue.pushed[1].EventID)

		// RECEIVED then QUEUED per event, no worker attribution on ingestion.
		require.Len(t, store.auditCalls, 4)
		assert.Equal(t, audit.ActionReceived, store.auditCalls[0].Action)
		assert.Equal(t, audit.ActionQueued, store.auditCalls[1].Action)
		assert.Equal(t, audit.ActionReceived, store.auditCalls[2].Action)
		assert.Equal(t, audit.ActionQueued, store.auditCalls[3].Action)

		for _, call := range store.auditCalls {
			assert.Nil(t, call.WorkerID)
		}
	})

	t.Run("resolves topic aliases before enqueueing", func(t *testing.T) {
		store := &fakeStore{}
		queue := &fakeQueue{}
		resolver := &fakeResolver{aliases: map[string]string{"app-logs": "logs.app"}}
		handler := newTestHandler(t, store, queue, resolver)

		rec := doJSON(handler, http.MethodPost, "/publish",
			publishBody(t, validIncomingEvent("evt-1", "app-logs")))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, queue.pushed, 1)
		assert.Equal(t, "logs.app", queue.pushed[0].Topic)
		assert.Equal(t, "logs.app", store.auditCalls[0].Topic)
	})

	t.Run("empty batch succeeds without side effects", func(t *testing.T) {
		store := &fakeStore{}
		queue := &fakeQueue{}
		handler := newTestHandler(t, store, queue, nil)

		rec := doJSON(handler, http.MethodPost, "/publish", []byte(`{"events":[]}`))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PublishResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.EventsCount)
		assert.Empty(t, queue.pushed)
		assert.Empty(t, store.auditCalls)
	})

	t.Run("rejects invalid batches before any side effect", func(t *testing.T) {
		missingTopic := validIncomingEvent("evt-1", "logs.app")
		delete(missingTopic, "topic")

		badTimestamp := validIncomingEvent("evt-1", "logs.app")
		badTimestamp["timestamp"] = "yesterday"

		missingMessage := validIncomingEvent("evt-1", "logs.app")
		missingMessage["payload"] = map[string]any{"timestamp": "2026-08-24T09:59:58Z"}

		tests := []struct {
			name   string
			body   []byte
			detail string
		}{
			{
				name:   "malformed JSON",
				body:   []byte(`{"events": [`),
				detail: "not a valid publish request",
			},
			{
				name:   "missing topic",
				body:   publishBody(t, missingTopic),
				detail: "events[0].topic is required",
			},
			{
				name:   "invalid event timestamp",
				body:   publishBody(t, badTimestamp),
				detail: "events[0].timestamp must be an ISO-8601 timestamp",
			},
			{
				name:   "payload missing message",
				body:   publishBody(t, missingMessage),
				detail: "events[0].payload.message is required",
			},
			{
				name:   "second event invalid rejects whole batch",
				body:   publishBody(t, validIncomingEvent("evt-1", "logs.app"), missingTopic),
				detail: "events[1].topic is required",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				store := &fakeStore{}
				queue := &fakeQueue{}
				handler := newTestHandler(t, store, queue, nil)

				rec := doJSON(handler, http.MethodPost, "/publish", tt.body)

				require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Body.String(), tt.detail)

				// Validation failures must leave no trace.
				assert.Empty(t, queue.pushed)
				assert.Empty(t, store.auditCalls)
			})
		}
	})

	t.Run("rejects non-JSON content type", func(t *testing.T) {
		handler := newTestHandler(t, &fakeStore{}, &fakeQueue{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader("events"))
		req.Header.Set("Content-Type", "text/plain")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("rejects oversized bodies", func(t *testing.T) {
		store := &fakeStore{}
		queue := &fakeQueue{}

		cfg := testServerConfig()
		cfg.MaxRequestSize = 64

		server := NewServer(cfg, store, queue, nil, nil)
		handler := server.httpServer.Handler

		rec := doJSON(handler, http.MethodPost, "/publish",
			publishBody(t, validIncomingEvent("evt-1", "logs.app")))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, queue.pushed)
	})

	t.Run("broker failure aborts the batch with 500", func(t *testing.T) {
		store := &fakeStore{}
		queue := &fakeQueue{pushErr: errors.New("connection refused")}
		handler := newTestHandler(t, store, queue, nil)

		rec := doJSON(handler, http.MethodPost, "/publish",
			publishBody(t, validIncomingEvent("evt-1", "logs.app")))

		require.Equal(t, http.StatusInternalServerError, rec.Code)

		// The event was received before the push failed, but never queued.
		require.Len(t, store.auditCalls, 1)
		assert.Equal(t, audit.ActionReceived, store.auditCalls[0].Action)
	})

	t.Run("audit failure aborts the batch with 500", func(t *testing.T) {
		store := &fakeStore{logAuditErr: errors.New("store offline")}
		queue := &fakeQueue{}
		handler := newTestHandler(t, store, queue, nil)

		rec := doJSON(handler, http.MethodPost, "/publish",
			publishBody(t, validIncomingEvent("evt-1", "logs.app")))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, queue.pushed)
	})
}

func mustMarshalEvents(t *testing.T, events ...map[string]any) []byte {
	t.Helper()

	return publishBody(t, events...)
}

func TestHandleEvents(t *testing.T) {
	stored := []event.Event{
		{
			EventID: "evt-2", Topic: "logs.db", Source: "svc-b",
			Payload:   event.Payload{Message: "slow query", Timestamp: time.Now().UTC()},
			Timestamp: time.Now().UTC(),
		},
		{
			EventID: "evt-1", Topic: "logs.app", Source: "svc-a",
			Payload:   event.Payload{Message: "disk usage high", Timestamp: time.Now().UTC()},
			Timestamp: time.Now().UTC(),
		},
	}

	t.Run("returns all events", func(t *testing.T) {
		store := &fakeStore{events: stored}
		handler := newTestHandler(t, store, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/events", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp EventsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, "evt-2", resp.Events[0].EventID)
	})

	t.Run("filters by topic", func(t *testing.T) {
		store := &fakeStore{events: stored}
		handler := newTestHandler(t, store, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/events?topic=logs.app", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp EventsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "logs.app", store.lastTopic)
	})

	t.Run("resolves topic aliases in queries", func(t *testing.T) {
		store := &fakeStore{events: stored}
		resolver := &fakeResolver{aliases: map[string]string{"app-logs": "logs.app"}}
		handler := newTestHandler(t, store, &fakeQueue{}, resolver)

		rec := doJSON(handler, http.MethodGet, "/events?topic=app-logs", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "logs.app", store.lastTopic)
	})

	t.Run("store failure returns 500 problem", func(t *testing.T) {
		store := &fakeStore{queryErr: errors.New("connection reset")}
		handler := newTestHandler(t, store, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/events", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})
}

func TestHandleStats(t *testing.T) {
	store := &fakeStore{stats: &storage.Stats{
		Received:          10,
		UniqueProcessed:   7,
		DuplicatedDropped: 3,
		Topics:            []string{"logs.app", "logs.db"},
		Uptime:            12.5,
	}}
	handler := newTestHandler(t, store, &fakeQueue{}, nil)

	rec := doJSON(handler, http.MethodGet, "/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.Received)
	assert.Equal(t, int64(7), resp.UniqueProcessed)
	assert.Equal(t, int64(3), resp.DuplicatedDropped)
	assert.Equal(t, []string{"logs.app", "logs.db"}, resp.Topics)
	assert.InDelta(t, 12.5, resp.Uptime, 0.001)
}

func TestHandleAuditLogs(t *testing.T) {
	t.Run("passes parsed filters to the store", func(t *testing.T) {
		workerID := 2
		store := &fakeStore{records: []audit.Record{
			{ID: 1, EventID: "evt-1", Topic: "logs.app", Action: audit.ActionProcessed, WorkerID: &workerID},
		}}
		handler := newTestHandler(t, store, &fakeQueue{}, nil)

		target := "/audit?action=PROCESSED&topic=logs.app&event_id=evt-1" +
			"&from=2026-08-24T00:00:00Z&to=2026-08-25T00:00:00Z&limit=50"
		rec := doJSON(handler, http.MethodGet, target, nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)

		assert.Equal(t, audit.ActionProcessed, store.lastFilter.Action)
		assert.Equal(t, "logs.app", store.lastFilter.Topic)
		assert.Equal(t, "evt-1", store.lastFilter.EventID)
		assert.Equal(t, 50, store.lastFilter.Limit)
		require.NotNil(t, store.lastFilter.From)
		require.NotNil(t, store.lastFilter.To)
		assert.True(t, store.lastFilter.To.After(*store.lastFilter.From))
	})

	t.Run("rejects malformed query parameters", func(t *testing.T) {
		tests := []struct {
			name   string
			target string
		}{
			{name: "unknown action", target: "/audit?action=EXPLODED"},
			{name: "bad from timestamp", target: "/audit?from=lastweek"},
			{name: "bad to timestamp", target: "/audit?to=2026-13-99"},
			{name: "non-integer limit", target: "/audit?limit=many"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				handler := newTestHandler(t, &fakeStore{}, &fakeQueue{}, nil)

				rec := doJSON(handler, http.MethodGet, tt.target, nil)

				assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			})
		}
	})
}

func TestHandleAuditSummary(t *testing.T) {
	store := &fakeStore{summary: &audit.Summary{
		TotalReceived:  5,
		TotalQueued:    5,
		TotalProcessed: 4,
		TotalDropped:   1,
		ByTopic: map[string]*audit.ActionCounts{
			"logs.app": {Received: 5, Queued: 5, Processed: 4, Dropped: 1},
		},
		ByWorker: map[string]*audit.ActionCounts{
			"0": {Processed: 4, Dropped: 1},
		},
	}}
	handler := newTestHandler(t, store, &fakeQueue{}, nil)

	rec := doJSON(handler, http.MethodGet, "/audit/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp audit.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.TotalReceived)
	assert.Equal(t, int64(4), resp.TotalProcessed)
	require.Contains(t, resp.ByWorker, "0")
	assert.Equal(t, int64(1), resp.ByWorker["0"].Dropped)
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("health always reports healthy", func(t *testing.T) {
		handler := newTestHandler(t, &fakeStore{healthErr: errors.New("down")}, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("ready reports ready when store and broker respond", func(t *testing.T) {
		handler := newTestHandler(t, &fakeStore{}, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/ready", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ready")
	})

	t.Run("ready reports 503 when the store is down", func(t *testing.T) {
		handler := newTestHandler(t, &fakeStore{healthErr: errors.New("down")}, &fakeQueue{}, nil)

		rec := doJSON(handler, http.MethodGet, "/ready", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("ready reports 503 when the broker is down", func(t *testing.T) {
		handler := newTestHandler(t, &fakeStore{}, &fakeQueue{pingErr: errors.New("down")}, nil)

		rec := doJSON(handler, http.MethodGet, "/ready", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRootAndNotFound(t *testing.T) {
	handler := newTestHandler(t, &fakeStore{}, &fakeQueue{}, nil)

	t.Run("root returns the service banner", func(t *testing.T) {
		rec := doJSON(handler, http.MethodGet, "/", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp RootResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Message)
	})

	t.Run("unknown paths return RFC 7807 404", func(t *testing.T) {
		rec := doJSON(handler, http.MethodGet, "/nope", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, http.StatusNotFound, problem.Status)
		assert.Equal(t, "/nope", problem.Instance)
		assert.Equal(t, fmt.Sprintf("https://chronicle.io/problems/%d", http.StatusNotFound), problem.Type)
	})
}
