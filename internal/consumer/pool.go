package consumer

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/config"
	"github.com/chronicle-io/chronicle/internal/event"
)

type (
	// Queue is the broker surface a worker drains.
	Queue interface {
		Pop(ctx context.Context, timeout time.Duration) (*event.Event, error)
	}

	// Store is the persistence surface a worker writes to.
	Store interface {
		InsertEvent(ctx context.Context, evt *event.Event, workerID int) (bool, error)
		LogAudit(
			ctx context.Context,
			eventID, topic, source string,
			action audit.Action,
			workerID *int,
		) (audit.Record, error)
	}

	// Pool runs a fixed set of workers against the queue and store. Each
	// worker loops: pop with timeout, insert, and on failure retry the same
	// event with capped exponential backoff. After maxRetries consecutive
	// failures the in-flight event is abandoned with a FAILED audit record so
	// one poison event cannot wedge a worker forever.
	Pool struct {
		cfg     *Config
		queue   Queue
		store   Store
		logger  *slog.Logger
		sleep   func(ctx context.Context, delay time.Duration)
		wg      sync.WaitGroup
		cancel  context.CancelFunc
		started atomic.Bool
	}
)

// NewPool creates a consumer pool. Call Start to run it.
func NewPool(cfg *Config, queue Queue, store Store) *Pool {
	return &Pool{
		cfg:   cfg,
		queue: queue,
		store: store,
		sleep: sleepContext,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Start launches the configured number of workers. Idempotent: subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting consumer pool",
		slog.Int("workers", p.cfg.WorkerCount),
		slog.Duration("pop_timeout", p.cfg.PopTimeout),
	)

	for workerID := range p.cfg.WorkerCount {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
}

// Stop cancels all workers and waits for them to drain. A worker blocked in a
// pop returns no later than its timeout.
func (p *Pool) Stop() {
	if !p.started.Load() {
		return
	}

	p.cancel()
	p.wg.Wait()

	p.logger.Info("Consumer pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	logger := p.logger.With(slog.Int("worker_id", workerID))
	logger.Info("Worker started")

	var (
		inflight *event.Event
		retries  int
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopping")

			return
		default:
		}

		if inflight == nil {
			evt, err := p.queue.Pop(ctx, p.cfg.PopTimeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}

				logger.Error("Failed to pop event", slog.String("error", err.Error()))

				retries = p.handleFailure(ctx, logger, nil, retries, workerID)

				continue
			}

			if evt == nil {
				// Queue idle; the timeout doubles as the shutdown check interval.
				continue
			}

			// A delivered event starts with a fresh retry budget; earlier pop
			// failures must not count against it.
			inflight = evt
			retries = 0
		}

		unique, err := p.store.InsertEvent(ctx, inflight, workerID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			logger.Error("Failed to persist event",
				slog.String("event_id", inflight.EventID),
				slog.String("topic", inflight.Topic),
				slog.Int("retries", retries),
				slog.String("error", err.Error()),
			)

			retries = p.handleFailure(ctx, logger, inflight, retries, workerID)
			if retries == 0 {
				inflight = nil
			}

			continue
		}

		if unique {
			logger.Info("Event processed",
				slog.String("event_id", inflight.EventID),
				slog.String("topic", inflight.Topic),
			)
		} else {
			logger.Warn("Duplicate event dropped",
				slog.String("event_id", inflight.EventID),
				slog.String("topic", inflight.Topic),
			)
		}

		inflight = nil
		retries = 0
	}
}

// handleFailure advances the retry counter. Every failure sleeps the capped
// exponential backoff, including the final one, so the observed schedule is
// 2, 4, 8, 16, 30 seconds. At the retry ceiling it records FAILED for the
// in-flight event and returns zero to reset the counter.
func (p *Pool) handleFailure(
	ctx context.Context,
	logger *slog.Logger,
	inflight *event.Event,
	retries, workerID int,
) int {
	retries++

	if retries < maxRetries {
		p.sleep(ctx, backoff(retries))

		return retries
	}

	if inflight != nil {
		_, err := p.store.LogAudit(
			ctx, inflight.EventID, inflight.Topic, inflight.Source,
			audit.ActionFailed, &workerID,
		)
		if err != nil {
			logger.Error("Failed to record FAILED audit entry",
				slog.String("event_id", inflight.EventID),
				slog.String("error", err.Error()),
			)
		}

		logger.Error("Giving up on event after repeated failures",
			slog.String("event_id", inflight.EventID),
			slog.String("topic", inflight.Topic),
			slog.Int("retries", retries),
		)
	}

	p.sleep(ctx, backoff(retries))

	return 0
}

// backoff returns min(2^retries, 30) seconds.
func backoff(retries int) time.Duration {
	delay := time.Duration(1<<uint(retries)) * time.Second //nolint:gosec // retries is bounded by maxRetries
	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
