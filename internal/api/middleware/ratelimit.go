// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier = 2
	clientCleanupInterval   = 5 * time.Minute
	clientIdleTimeout       = time.Hour
)

type (
	// RateLimiter decides whether a request from the given client should
	// proceed. Implementations must be safe for concurrent use.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// clientKey identifies the caller, typically the remote address.
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate
	// token buckets: one global bucket plus one lazily-created bucket per
	// client. A background goroutine evicts buckets idle longer than an hour.
	//
	// Suitable for single-node deployments; a distributed limiter would
	// implement the same interface over shared state.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		clientRPS   int
		clientBurst int
	}

	// clientLimiter tracks rate limit state for a single client.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a rate limiter from config and starts its
// cleanup goroutine. Call Close to stop it.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	limiter := &InMemoryRateLimiter{
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRPS), computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		perClient:   make(map[string]*clientLimiter),
		done:        make(chan struct{}),
		clientRPS:   cfg.ClientRPS,
		clientBurst: computeBurstCapacity(cfg.ClientRPS, cfg.ClientBurst),
	}

	limiter.cleanupTicker = time.NewTicker(clientCleanupInterval)

	go func() {
		for {
			select {
			case <-limiter.cleanupTicker.C:
				limiter.cleanup()
			case <-limiter.done:
				return
			}
		}
	}()

	return limiter
}

// computeBurstCapacity returns the override when set, otherwise 2 x rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the per-client bucket.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	rl.mu.RLock()
	client, ok := rl.perClient[clientKey]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Re-check after acquiring the write lock.
		if client, ok = rl.perClient[clientKey]; !ok {
			client = &clientLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
				lastAccess: time.Now(),
			}
			rl.perClient[clientKey] = client
		}
		rl.mu.Unlock()
	}

	client.mu.Lock()
	client.lastAccess = time.Now()
	client.mu.Unlock()

	return client.limiter.Allow()
}

// Close stops the cleanup goroutine. Safe to call once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.cleanupTicker.Stop()
	close(rl.done)

	return nil
}

// cleanup evicts client buckets that have been idle past the timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, client := range rl.perClient {
		client.mu.Lock()
		lastAccess := client.lastAccess
		client.mu.Unlock()

		if now.Sub(lastAccess) > clientIdleTimeout {
			delete(rl.perClient, key)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests, keyed by remote address. Requests over the limit get a 429 with
// an RFC 7807 body.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeProblem(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("Failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey extracts the client host from the request's remote address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
