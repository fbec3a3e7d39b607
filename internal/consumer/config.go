// Package consumer implements the worker pool that drains the broker queue
// into the event store: W workers popping events, persisting them with
// deduplication, and retrying transient failures with capped backoff.
package consumer

import (
	"errors"
	"time"

	"github.com/chronicle-io/chronicle/internal/config"
)

const (
	defaultWorkerCount = 4
	defaultPopTimeout  = 5 * time.Second

	// maxRetries is the number of consecutive failures after which a worker
	// gives up on the in-flight event, records FAILED, and moves on.
	maxRetries = 5

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 30 * time.Second
)

var (
	// ErrInvalidWorkerCount is returned when the configured pool size is not positive.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

	// ErrInvalidPopTimeout is returned when the configured pop timeout is not positive.
	ErrInvalidPopTimeout = errors.New("pop timeout must be positive")
)

// Config holds consumer pool configuration.
type Config struct {
	// WorkerCount is the number of concurrent workers draining the queue.
	WorkerCount int

	// PopTimeout bounds each blocking pop, and with it how quickly an idle
	// worker observes shutdown.
	PopTimeout time.Duration
}

// LoadConfig reads consumer configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		WorkerCount: config.GetEnvInt("WORKER_COUNT", defaultWorkerCount),
		PopTimeout:  config.GetEnvDuration("CHRONICLE_POP_TIMEOUT", defaultPopTimeout),
	}
}

// Validate checks if the consumer configuration is valid.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return ErrInvalidWorkerCount
	}

	if c.PopTimeout <= 0 {
		return ErrInvalidPopTimeout
	}

	return nil
}
