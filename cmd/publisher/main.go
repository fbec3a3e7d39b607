// Package main provides a demo event publisher for the Chronicle aggregator.
//
// It generates a stream of synthetic log events with a configurable share of
// duplicates and publishes them in batches to a running aggregator, then
// reports the achieved throughput. Useful for exercising the ingestion path,
// the broker queue, and the deduplicating store end to end.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-io/chronicle/internal/config"
)

const (
	version = "1.0.0-dev"
	name    = "chronicle-publisher"

	defaultEventCount     = 100
	defaultBatchSize      = 10
	defaultDuplicateRatio = 0.2
	defaultAggregatorURL  = "http://localhost:8080"

	requestTimeout = 10 * time.Second
	maxAttempts    = 5
	maxRetryDelay  = 10 * time.Second
)

// topics the generator spreads events across.
var topics = []string{
	"logs.app",
	"logs.db",
	"logs.auth",
	"metrics.cpu",
	"alerts.disk",
}

var messages = []string{
	"disk usage above threshold",
	"slow query detected",
	"authentication failed",
	"connection pool exhausted",
	"request completed",
}

type (
	// wireEvent matches the aggregator's publish contract.
	wireEvent struct {
		EventID   string         `json:"event_id"` //nolint: tagliatelle
		Topic     string         `json:"topic"`
		Source    string         `json:"source"`
		Payload   map[string]any `json:"payload"`
		Timestamp string         `json:"timestamp"`
	}

	publishRequest struct {
		Events []wireEvent `json:"events"`
	}
)

type generatorConfig struct {
	AggregatorURL  string
	EventCount     int
	BatchSize      int
	DuplicateRatio float64
}

func loadGeneratorConfig() *generatorConfig {
	return &generatorConfig{
		AggregatorURL:  config.GetEnvStr("AGGREGATOR_URL", defaultAggregatorURL),
		EventCount:     config.GetEnvInt("EVENT_COUNT", defaultEventCount),
		BatchSize:      config.GetEnvInt("BATCH_SIZE", defaultBatchSize),
		DuplicateRatio: config.GetEnvFloat("DUPLICATE_RATIO", defaultDuplicateRatio),
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	cfg := loadGeneratorConfig()
	if cfg.EventCount <= 0 || cfg.BatchSize <= 0 || cfg.DuplicateRatio < 0 || cfg.DuplicateRatio >= 1 {
		logger.Error("Invalid generator configuration",
			slog.Int("event_count", cfg.EventCount),
			slog.Int("batch_size", cfg.BatchSize),
			slog.Float64("duplicate_ratio", cfg.DuplicateRatio),
		)
		os.Exit(1)
	}

	events := generateEvents(cfg.EventCount, cfg.DuplicateRatio)

	logger.Info("Publishing events",
		slog.String("aggregator_url", cfg.AggregatorURL),
		slog.Int("event_count", len(events)),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Float64("duplicate_ratio", cfg.DuplicateRatio),
	)

	client := &http.Client{Timeout: requestTimeout}
	start := time.Now()
	published := 0

	for offset := 0; offset < len(events); offset += cfg.BatchSize {
		end := min(offset+cfg.BatchSize, len(events))

		if err := publishBatch(client, cfg.AggregatorURL, events[offset:end], logger); err != nil {
			logger.Error("Failed to publish batch",
				slog.Int("offset", offset),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}

		published += end - offset
	}

	elapsed := time.Since(start)

	logger.Info("Publishing completed",
		slog.Int("events_published", published),
		slog.Duration("elapsed", elapsed),
		slog.Float64("events_per_second", float64(published)/elapsed.Seconds()),
	)
}

// generateEvents produces count events of which roughly ratio are duplicates
// of earlier ones. Duplicates repeat an earlier event verbatim so the
// aggregator's (topic, event_id) deduplication can be observed downstream.
func generateEvents(count int, ratio float64) []wireEvent {
	uniqueCount := count - int(float64(count)*ratio)
	if uniqueCount < 1 {
		uniqueCount = 1
	}

	events := make([]wireEvent, 0, count)

	for i := range uniqueCount {
		now := time.Now().UTC()
		events = append(events, wireEvent{
			EventID: uuid.NewString(),
			Topic:   topics[i%len(topics)],
			Source:  fmt.Sprintf("publisher-%d", i%3),
			Payload: map[string]any{
				"message":   messages[i%len(messages)],
				"timestamp": now.Format(time.RFC3339),
				"sequence":  i,
			},
			Timestamp: now.Format(time.RFC3339),
		})
	}

	for len(events) < count {
		events = append(events, events[rand.IntN(uniqueCount)])
	}

	// Shuffle so duplicates are interleaved with originals.
	rand.Shuffle(len(events), func(i, j int) {
		events[i], events[j] = events[j], events[i]
	})

	return events
}

// publishBatch posts one batch, retrying transient failures with capped
// exponential backoff.
func publishBatch(client *http.Client, baseURL string, batch []wireEvent, logger *slog.Logger) error {
	body, err := json.Marshal(publishRequest{Events: batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = postBatch(client, baseURL+"/publish", body)
		if lastErr == nil {
			return nil
		}

		delay := min(time.Duration(1<<attempt)*time.Second, maxRetryDelay)

		logger.Warn("Publish attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", lastErr.Error()),
		)

		time.Sleep(delay)
	}

	return fmt.Errorf("batch rejected after %d attempts: %w", maxAttempts, lastErr)
}

func postBatch(client *http.Client, url string, body []byte) error {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, string(detail))
	}

	return nil
}
