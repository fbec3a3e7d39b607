// Package main provides the Chronicle event aggregator service.
//
// The aggregator accepts published event batches over HTTP, queues them on a
// Redis broker, and drains the queue with a worker pool that deduplicates
// events into PostgreSQL while keeping a full audit trail.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/chronicle-io/chronicle/internal/aliasing"
	"github.com/chronicle-io/chronicle/internal/api"
	"github.com/chronicle-io/chronicle/internal/api/middleware"
	"github.com/chronicle-io/chronicle/internal/audit"
	"github.com/chronicle-io/chronicle/internal/broker"
	"github.com/chronicle-io/chronicle/internal/consumer"
	"github.com/chronicle-io/chronicle/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "chronicle-aggregator"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Chronicle aggregator",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	ctx := context.Background()

	// Storage: connection pool, migrations, event store.
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	// Optional Kafka audit mirror, enabled by CHRONICLE_AUDIT_BROKERS.
	var storeOpts []storage.StoreOption

	var mirror *audit.Mirror

	mirrorConfig := audit.LoadMirrorConfig()
	if mirrorConfig.Enabled() {
		mirror, err = audit.NewMirror(mirrorConfig)
		if err != nil {
			logger.Error("Failed to start audit mirror", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		defer func() {
			_ = mirror.Close()
		}()

		storeOpts = append(storeOpts, storage.WithAuditMirror(mirror))

		logger.Info("Audit mirror enabled",
			slog.Any("brokers", mirrorConfig.Brokers),
			slog.String("topic", mirrorConfig.Topic),
		)
	}

	eventStore := storage.NewEventStore(dbConn, storeOpts...)

	if err := eventStore.Initialize(); err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	// Broker queue.
	brokerConfig := broker.LoadConfig()

	queue, err := broker.NewQueue(ctx, brokerConfig)
	if err != nil {
		logger.Error("Failed to connect to broker", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = queue.Close()
	}()

	logger.Info("Broker queue connected",
		slog.String("redis_url", broker.MaskRedisURL(brokerConfig.RedisURL)),
	)

	// Topic alias resolver; missing or broken config degrades to identity.
	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Failed to load topic alias configuration, aliasing disabled",
			slog.String("error", err.Error()),
		)

		aliasConfig = &aliasing.Config{}
	}

	resolver := aliasing.NewResolver(aliasConfig)

	logger.Info("Topic alias resolver initialized",
		slog.Int("rules", resolver.RuleCount()),
	)

	// Consumer pool draining the broker queue into the store.
	consumerConfig := consumer.LoadConfig()
	if err := consumerConfig.Validate(); err != nil {
		logger.Error("Invalid consumer configuration", slog.String("error", err.Error()))

		_ = queue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	pool := consumer.NewPool(consumerConfig, queue, eventStore)
	pool.Start(ctx)

	defer pool.Stop()

	logger.Info("Consumer pool started",
		slog.Int("workers", consumerConfig.WorkerCount),
		slog.Duration("pop_timeout", consumerConfig.PopTimeout),
	)

	// Optional rate limiter (graceful shutdown handled by server.shutdown()).
	var rateLimiter middleware.RateLimiter

	rateLimitConfig := middleware.LoadRateLimitConfig()
	if rateLimitConfig.Enabled() {
		rateLimiter = middleware.NewInMemoryRateLimiter(rateLimitConfig)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", rateLimitConfig.GlobalRPS),
			slog.Int("client_rps", rateLimitConfig.ClientRPS),
		)
	}

	server := api.NewServer(serverConfig, eventStore, queue, resolver, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Chronicle aggregator stopped")
}
