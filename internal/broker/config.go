// Package broker provides the Redis-backed event queue between the ingestion
// API and the consumer pool. Events are serialised as JSON and moved through a
// single Redis list: producers LPUSH, workers BRPOP, so the queue is FIFO and
// survives aggregator restarts as long as Redis does.
package broker

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/chronicle-io/chronicle/internal/config"
)

// QueueKey is the Redis list holding pending events.
const QueueKey = "events"

// DefaultRedisURL connects to a local Redis on the default database.
const DefaultRedisURL = "redis://localhost:6379/0"

// Config holds broker connection configuration.
type Config struct {
	// RedisURL is a redis:// connection URL (address, credentials, database).
	RedisURL string
}

// LoadConfig reads broker configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		RedisURL: config.GetEnvStr("REDIS_URL", DefaultRedisURL),
	}
}

// Options parses the configured URL into go-redis client options.
func (c *Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	return opts, nil
}

// MaskRedisURL redacts the password portion of a Redis URL for logging.
func MaskRedisURL(rawURL string) string {
	atIdx := strings.LastIndex(rawURL, "@")
	if atIdx == -1 {
		return rawURL
	}

	schemeIdx := strings.Index(rawURL, "://")
	if schemeIdx == -1 {
		return rawURL
	}

	return rawURL[:schemeIdx+3] + "***" + rawURL[atIdx:]
}
