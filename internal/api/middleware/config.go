// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"github.com/chronicle-io/chronicle/internal/config"
)

const (
	defaultClientRPS = 50
)

// RateLimitConfig holds rate limiter configuration.
//
// Rate limits are requests per second (RPS) in two tiers: a global bucket for
// all traffic and a per-client bucket keyed by remote address. Burst fields
// of 0 are computed automatically as 2 x rate.
//
// Rate limiting is opt-in: a GlobalRPS of 0 (the default) disables it.
type RateLimitConfig struct {
	GlobalRPS int // Default: 0 (disabled)
	ClientRPS int // Default: 50

	GlobalBurst int // Default: 0 (computed as 2 x GlobalRPS)
	ClientBurst int // Default: 0 (computed as 2 x ClientRPS)
}

// LoadRateLimitConfig loads rate limiter config from environment variables.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalRPS:   config.GetEnvInt("CHRONICLE_RATELIMIT_RPS", 0),
		ClientRPS:   config.GetEnvInt("CHRONICLE_RATELIMIT_CLIENT_RPS", defaultClientRPS),
		GlobalBurst: config.GetEnvInt("CHRONICLE_RATELIMIT_BURST", 0),
		ClientBurst: config.GetEnvInt("CHRONICLE_RATELIMIT_CLIENT_BURST", 0),
	}
}

// Enabled reports whether rate limiting is configured.
func (c *RateLimitConfig) Enabled() bool {
	return c.GlobalRPS > 0
}
