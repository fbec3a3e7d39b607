package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/config"
	"github.com/chronicle-io/chronicle/internal/event"
)

const (
	// Audit query limit bounds; requests outside are clamped, zero defaults.
	defaultAuditLimit = 100
	minAuditLimit     = 1
	maxAuditLimit     = 1000
)

// ErrStoreNotInitialized is returned when a store operation runs before
// Initialize has applied the schema migrations.
var ErrStoreNotInitialized = errors.New("event store not initialized: call Initialize first")

type (
	// EventStore persists deduplicated events, the singleton counters, and the
	// audit trail. All mutations of an event insert happen in one transaction,
	// so counters and audit entries never diverge from the events table.
	EventStore struct {
		conn        *Connection
		logger      *slog.Logger
		mirror      audit.Sink
		startTime   time.Time
		initialized atomic.Bool
	}

	// StoreOption configures optional EventStore collaborators.
	StoreOption func(*EventStore)

	// Stats is the aggregate counter projection served by the stats endpoint.
	// UniqueProcessed and Topics are read fresh from processed_events rather
	// than from counters, so they cannot drift.
	Stats struct {
		Received          int64    `json:"received"`
		UniqueProcessed   int64    `json:"unique_processed"`   //nolint: tagliatelle
		DuplicatedDropped int64    `json:"duplicated_dropped"` //nolint: tagliatelle
		Topics            []string `json:"topics"`
		Uptime            float64  `json:"uptime"` // seconds since process start
	}
)

// WithAuditMirror attaches a sink that receives a copy of every audit record
// after its transaction commits.
func WithAuditMirror(sink audit.Sink) StoreOption {
	return func(s *EventStore) {
		s.mirror = sink
	}
}

// NewEventStore creates an event store over an established connection pool.
// Call Initialize before using it.
func NewEventStore(conn *Connection, opts ...StoreOption) *EventStore {
	store := &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Initialize applies schema migrations and marks the store ready. Idempotent.
func (s *EventStore) Initialize() error {
	if err := s.conn.Migrate(); err != nil {
		return err
	}

	s.initialized.Store(true)

	return nil
}

func (s *EventStore) ready() error {
	if !s.initialized.Load() {
		return ErrStoreNotInitialized
	}

	return nil
}

// markInitialized skips migrations. Test seam for sqlmock-backed stores.
func (s *EventStore) markInitialized() {
	s.initialized.Store(true)
}

// InsertEvent persists one event with deduplication on (topic, event_id),
// updates the counters, and appends the PROCESSED or DROPPED audit record,
// all in a single transaction. Returns true iff a new row was written.
func (s *EventStore) InsertEvent(ctx context.Context, evt *event.Event, workerID int) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload for event %s: %w", evt.EventID, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var rowID int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO processed_events (event_id, topic, source, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, event_id) DO NOTHING
		RETURNING id
	`, evt.EventID, evt.Topic, evt.Source, payload, evt.Timestamp).Scan(&rowID)

	unique := true

	switch {
	case errors.Is(err, sql.ErrNoRows):
		unique = false
	case err != nil:
		return false, fmt.Errorf("insert event %s: %w", evt.EventID, err)
	}

	action := audit.ActionProcessed

	if unique {
		_, err = tx.ExecContext(ctx, `
			UPDATE stats
			SET received = received + 1, updated_at = NOW()
			WHERE id = 1
		`)
	} else {
		action = audit.ActionDropped

		_, err = tx.ExecContext(ctx, `
			UPDATE stats
			SET received = received + 1, duplicated_dropped = duplicated_dropped + 1, updated_at = NOW()
			WHERE id = 1
		`)
	}

	if err != nil {
		return false, fmt.Errorf("update stats for event %s: %w", evt.EventID, err)
	}

	record := audit.Record{
		EventID:  evt.EventID,
		Topic:    evt.Topic,
		Source:   evt.Source,
		Action:   action,
		WorkerID: &workerID,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_log (event_id, topic, source, action, worker_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, record.EventID, record.Topic, record.Source, record.Action, record.WorkerID).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("append audit record for event %s: %w", evt.EventID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit insert for event %s: %w", evt.EventID, err)
	}

	s.publishToMirror(record)

	s.logger.Debug("Event insert committed",
		slog.String("event_id", evt.EventID),
		slog.String("topic", evt.Topic),
		slog.Bool("unique", unique),
		slog.Int("worker_id", workerID),
	)

	return unique, nil
}

// LogAudit appends one audit record, independent of event presence. Used by
// the ingestion path before an event is persisted and by FAILED paths where no
// insert occurred.
func (s *EventStore) LogAudit(
	ctx context.Context,
	eventID, topic, source string,
	action audit.Action,
	workerID *int,
) (audit.Record, error) {
	if err := s.ready(); err != nil {
		return audit.Record{}, err
	}

	record := audit.Record{
		EventID:  eventID,
		Topic:    topic,
		Source:   source,
		Action:   action,
		WorkerID: workerID,
	}

	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO audit_log (event_id, topic, source, action, worker_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, eventID, topic, source, action, workerID).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return audit.Record{}, fmt.Errorf("append %s audit record for event %s: %w", action, eventID, err)
	}

	s.publishToMirror(record)

	return record, nil
}

// EventsByTopic returns the persisted events of one topic, newest first.
func (s *EventStore) EventsByTopic(ctx context.Context, topic string) ([]event.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	return s.queryEvents(ctx, `
		SELECT event_id, topic, source, payload, timestamp
		FROM processed_events
		WHERE topic = $1
		ORDER BY timestamp DESC
	`, topic)
}

// AllEvents returns every persisted event, newest first.
func (s *EventStore) AllEvents(ctx context.Context) ([]event.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	return s.queryEvents(ctx, `
		SELECT event_id, topic, source, payload, timestamp
		FROM processed_events
		ORDER BY timestamp DESC
	`)
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]event.Event, 0)

	for rows.Next() {
		var (
			evt     event.Event
			payload []byte
		)

		if err := rows.Scan(&evt.EventID, &evt.Topic, &evt.Source, &payload, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		if err := json.Unmarshal(payload, &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", evt.EventID, err)
		}

		events = append(events, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

// Stats returns the counter projection: stored counters plus a fresh count
// and distinct topic set from processed_events, and process uptime.
func (s *EventStore) Stats(ctx context.Context) (*Stats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	stats := &Stats{
		Topics: make([]string, 0),
		Uptime: time.Since(s.startTime).Seconds(),
	}

	err := s.conn.QueryRowContext(ctx, `
		SELECT received, duplicated_dropped FROM stats WHERE id = 1
	`).Scan(&stats.Received, &stats.DuplicatedDropped)
	if err != nil {
		return nil, fmt.Errorf("read stats counters: %w", err)
	}

	err = s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_events
	`).Scan(&stats.UniqueProcessed)
	if err != nil {
		return nil, fmt.Errorf("count processed events: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT DISTINCT topic FROM processed_events ORDER BY topic
	`)
	if err != nil {
		return nil, fmt.Errorf("query distinct topics: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}

		stats.Topics = append(stats.Topics, topic)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic rows: %w", err)
	}

	return stats, nil
}

// AuditLogs returns audit records matching the filter, newest first. The
// limit is clamped to [1, 1000] and defaults to 100 when unset.
func (s *EventStore) AuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_id, topic, source, action, worker_id, created_at
		FROM audit_log
	`

	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)

	appendCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Action != "" {
		appendCondition("action = $%d", filter.Action)
	}

	if filter.Topic != "" {
		appendCondition("topic = $%d", filter.Topic)
	}

	if filter.EventID != "" {
		appendCondition("event_id = $%d", filter.EventID)
	}

	if filter.From != nil {
		appendCondition("created_at >= $%d", *filter.From)
	}

	if filter.To != nil {
		appendCondition("created_at <= $%d", *filter.To)
	}

	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}

	args = append(args, clampAuditLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := make([]audit.Record, 0)

	for rows.Next() {
		var record audit.Record

		err := rows.Scan(
			&record.ID, &record.EventID, &record.Topic, &record.Source,
			&record.Action, &record.WorkerID, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return records, nil
}

// AuditSummary aggregates the audit trail: totals per action, counts per
// (topic, action), and counts per (worker, terminal action). Pre-queue
// actions carry no worker, so the worker dimension excludes them.
func (s *EventStore) AuditSummary(ctx context.Context) (*audit.Summary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	summary := &audit.Summary{
		ByTopic:  make(map[string]*audit.ActionCounts),
		ByWorker: make(map[string]*audit.ActionCounts),
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT action, COUNT(*) FROM audit_log GROUP BY action
	`)
	if err != nil {
		return nil, fmt.Errorf("query audit totals: %w", err)
	}

	if err := scanActionCounts(rows, func(action audit.Action, count int64) {
		switch action {
		case audit.ActionReceived:
			summary.TotalReceived = count
		case audit.ActionQueued:
			summary.TotalQueued = count
		case audit.ActionProcessed:
			summary.TotalProcessed = count
		case audit.ActionDropped:
			summary.TotalDropped = count
		case audit.ActionFailed:
			summary.TotalFailed = count
		}
	}); err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT topic, action, COUNT(*) FROM audit_log GROUP BY topic, action
	`)
	if err != nil {
		return nil, fmt.Errorf("query per-topic audit counts: %w", err)
	}

	if err := scanKeyedActionCounts(rows, summary.ByTopic); err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT worker_id, action, COUNT(*)
		FROM audit_log
		WHERE worker_id IS NOT NULL AND action IN ('PROCESSED', 'DROPPED', 'FAILED')
		GROUP BY worker_id, action
	`)
	if err != nil {
		return nil, fmt.Errorf("query per-worker audit counts: %w", err)
	}

	if err := scanWorkerActionCounts(rows, summary.ByWorker); err != nil {
		return nil, err
	}

	return summary, nil
}

// HealthCheck verifies database connectivity.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close releases the underlying connection pool.
func (s *EventStore) Close() error {
	return s.conn.Close()
}

func (s *EventStore) publishToMirror(record audit.Record) {
	if s.mirror != nil {
		s.mirror.Publish(record)
	}
}

func clampAuditLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultAuditLimit
	case limit < minAuditLimit:
		return minAuditLimit
	case limit > maxAuditLimit:
		return maxAuditLimit
	default:
		return limit
	}
}

func scanActionCounts(rows *sql.Rows, apply func(audit.Action, int64)) error {
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			action string
			count  int64
		)

		if err := rows.Scan(&action, &count); err != nil {
			return fmt.Errorf("scan action count row: %w", err)
		}

		apply(audit.Action(action), count)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate action count rows: %w", err)
	}

	return nil
}

func scanKeyedActionCounts(rows *sql.Rows, dest map[string]*audit.ActionCounts) error {
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			key    string
			action string
			count  int64
		)

		if err := rows.Scan(&key, &action, &count); err != nil {
			return fmt.Errorf("scan keyed action count row: %w", err)
		}

		counts, ok := dest[key]
		if !ok {
			counts = &audit.ActionCounts{}
			dest[key] = counts
		}

		counts.Apply(audit.Action(action), count)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate keyed action count rows: %w", err)
	}

	return nil
}

func scanWorkerActionCounts(rows *sql.Rows, dest map[string]*audit.ActionCounts) error {
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			workerID int
			action   string
			count    int64
		)

		if err := rows.Scan(&workerID, &action, &count); err != nil {
			return fmt.Errorf("scan worker action count row: %w", err)
		}

		key := strconv.Itoa(workerID)

		counts, ok := dest[key]
		if !ok {
			counts = &audit.ActionCounts{}
			dest[key] = counts
		}

		counts.Apply(audit.Action(action), count)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate worker action count rows: %w", err)
	}

	return nil
}
