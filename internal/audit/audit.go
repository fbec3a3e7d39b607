// Package audit defines the audit trail domain: one record per event state
// transition, filters for querying the trail, and aggregate summaries.
package audit

import (
	"fmt"
	"time"
)

// Action identifies the state transition an audit record describes.
type Action string

// Audit actions, in lifecycle order. RECEIVED and QUEUED are written on the
// ingestion path (no worker), PROCESSED and DROPPED inside the store's insert
// transaction, FAILED by a consumer worker after exhausting retries.
const (
	ActionReceived  Action = "RECEIVED"
	ActionQueued    Action = "QUEUED"
	ActionProcessed Action = "PROCESSED"
	ActionDropped   Action = "DROPPED"
	ActionFailed    Action = "FAILED"
)

// Actions lists every valid action value.
var Actions = []Action{ActionReceived, ActionQueued, ActionProcessed, ActionDropped, ActionFailed}

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	for _, action := range Actions {
		if string(action) == raw {
			return action, nil
		}
	}

	return "", fmt.Errorf("invalid audit action %q (valid: RECEIVED, QUEUED, PROCESSED, DROPPED, FAILED)", raw)
}

type (
	// Record is one row of the append-only audit trail.
	// WorkerID is nil for records written from the ingestion path.
	Record struct {
		ID        int64     `json:"id"`
		EventID   string    `json:"event_id"` //nolint: tagliatelle
		Topic     string    `json:"topic"`
		Source    string    `json:"source"`
		Action    Action    `json:"action"`
		WorkerID  *int      `json:"worker_id"`  //nolint: tagliatelle
		CreatedAt time.Time `json:"created_at"` //nolint: tagliatelle
	}

	// Filter narrows an audit trail query. Zero values mean "no constraint";
	// Limit is clamped to [1, 1000] by the store, defaulting to 100.
	Filter struct {
		Action  Action
		Topic   string
		EventID string
		From    *time.Time
		To      *time.Time
		Limit   int
	}

	// ActionCounts groups record counts per action for one summary dimension.
	ActionCounts struct {
		Received  int64 `json:"received"`
		Queued    int64 `json:"queued"`
		Processed int64 `json:"processed"`
		Dropped   int64 `json:"dropped"`
		Failed    int64 `json:"failed"`
	}

	// Summary aggregates the audit trail three ways: overall totals, per
	// topic, and per worker. The worker dimension only covers terminal
	// actions (processed, dropped, failed); pre-queue actions have no worker.
	Summary struct {
		TotalReceived  int64                    `json:"total_received"`  //nolint: tagliatelle
		TotalQueued    int64                    `json:"total_queued"`    //nolint: tagliatelle
		TotalProcessed int64                    `json:"total_processed"` //nolint: tagliatelle
		TotalDropped   int64                    `json:"total_dropped"`   //nolint: tagliatelle
		TotalFailed    int64                    `json:"total_failed"`    //nolint: tagliatelle
		ByTopic        map[string]*ActionCounts `json:"by_topic"`        //nolint: tagliatelle
		ByWorker       map[string]*ActionCounts `json:"by_worker"`       //nolint: tagliatelle
	}
)

// Apply adds a count to the slot matching the action. Unknown actions are
// ignored rather than failing the whole summary.
func (c *ActionCounts) Apply(action Action, count int64) {
	switch action {
	case ActionReceived:
		c.Received = count
	case ActionQueued:
		c.Queued = count
	case ActionProcessed:
		c.Processed = count
	case ActionDropped:
		c.Dropped = count
	case ActionFailed:
		c.Failed = count
	}
}
