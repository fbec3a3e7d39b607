// Package api provides the HTTP server for the aggregator.
package api

import (
	"context"

	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/event"
	"github.com/chronicle-io/chronicle/internal/storage"
)

type (
	// Store is the persistence surface the HTTP handlers need. Satisfied by
	// *storage.EventStore; narrowed to an interface so handler tests can use
	// in-memory fakes.
	Store interface {
		AllEvents(ctx context.Context) ([]event.Event, error)
		EventsByTopic(ctx context.Context, topic string) ([]event.Event, error)
		Stats(ctx context.Context) (*storage.Stats, error)
		AuditLogs(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
		AuditSummary(ctx context.Context) (*audit.Summary, error)
		LogAudit(
			ctx context.Context,
			eventID, topic, source string,
			action audit.Action,
			workerID *int,
		) (audit.Record, error)
		HealthCheck(ctx context.Context) error
	}

	// Queue is the broker surface the ingestion handler needs.
	// Satisfied by *broker.Queue.
	Queue interface {
		Push(ctx context.Context, evt *event.Event) error
		Ping(ctx context.Context) error
	}

	// TopicResolver maps published topic names to canonical ones.
	// Satisfied by *aliasing.Resolver.
	TopicResolver interface {
		Resolve(topic string) string
	}
)
