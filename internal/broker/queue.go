package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronicle-io/chronicle/internal/event"
)

// Queue is the Redis-backed event queue.
//
// Push and Pop operate on opposite ends of one list, giving FIFO delivery.
// A popped event is gone from Redis immediately; crash-safety for in-flight
// events is the consumer's retry loop, not the broker.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to Redis using the given configuration and verifies the
// connection with a ping before returning.
func NewQueue(ctx context.Context, cfg *Config) (*Queue, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing client. Used by tests that back the
// queue with an in-memory Redis.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Push serialises the event and appends it to the queue.
func (q *Queue) Push(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}

	if err := q.client.LPush(ctx, QueueKey, data).Err(); err != nil {
		return fmt.Errorf("push event %s: %w", evt.EventID, err)
	}

	return nil
}

// Pop blocks up to timeout waiting for the next event. Returns (nil, nil)
// when the timeout elapses with the queue empty, so callers can distinguish
// an idle queue from a broker failure.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	result, err := q.client.BRPop(ctx, timeout, QueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("pop event: %w", err)
	}

	// BRPOP returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("pop event: unexpected BRPOP reply of length %d", len(result))
	}

	var evt event.Event
	if err := json.Unmarshal([]byte(result[1]), &evt); err != nil {
		return nil, fmt.Errorf("decode queued event: %w", err)
	}

	return &evt, nil
}

// Length returns the number of events waiting in the queue.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}

	return length, nil
}

// Ping verifies broker connectivity for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}

// Close releases the underlying Redis connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}
