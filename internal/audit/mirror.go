package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chronicle-io/chronicle/internal/config"
)

const (
	defaultMirrorTopic   = "chronicle.audit"
	mirrorWriteTimeout   = 10 * time.Second
	mirrorBatchTimeout   = 10 * time.Millisecond
	mirrorPendingBacklog = 256
)

// ErrNoBrokers is returned when a mirror is constructed without broker addresses.
var ErrNoBrokers = errors.New("audit mirror requires at least one Kafka broker")

type (
	// Sink receives a copy of every audit record the store writes. The write
	// path never blocks on a sink and never fails because of one.
	Sink interface {
		Publish(record Record)
	}

	// MirrorConfig holds Kafka audit mirror configuration.
	MirrorConfig struct {
		Brokers []string
		Topic   string
	}

	// Mirror publishes audit records to a Kafka topic, keyed by (topic,
	// event_id) so transitions of one event land on one partition. Publishing
	// is fire and forget: records are handed to a background goroutine and
	// delivery failures are logged, never propagated. The durable audit trail
	// stays in the store; the mirror only feeds external consumers.
	Mirror struct {
		writer    *kafka.Writer
		logger    *slog.Logger
		pending   chan Record
		done      chan struct{}
		closeOnce sync.Once
	}
)

// LoadMirrorConfig reads mirror settings from the environment. An empty
// CHRONICLE_AUDIT_BROKERS means the mirror is disabled.
func LoadMirrorConfig() *MirrorConfig {
	return &MirrorConfig{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("CHRONICLE_AUDIT_BROKERS", "")),
		Topic:   config.GetEnvStr("CHRONICLE_AUDIT_TOPIC", defaultMirrorTopic),
	}
}

// Enabled reports whether any broker addresses are configured.
func (c *MirrorConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewMirror creates a Kafka-backed audit mirror and starts its delivery
// goroutine. Call Close to flush and stop it.
func NewMirror(cfg *MirrorConfig) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	topic := cfg.Topic
	if topic == "" {
		topic = defaultMirrorTopic
	}

	m := &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: mirrorBatchTimeout,
			WriteTimeout: mirrorWriteTimeout,
		},
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		pending: make(chan Record, mirrorPendingBacklog),
		done:    make(chan struct{}),
	}

	go m.deliver()

	return m, nil
}

// Publish enqueues a record for delivery. When the backlog is full the record
// is dropped with a warning; the store remains the system of record.
func (m *Mirror) Publish(record Record) {
	select {
	case m.pending <- record:
	default:
		m.logger.Warn("Audit mirror backlog full, dropping record",
			slog.String("event_id", record.EventID),
			slog.String("topic", record.Topic),
			slog.String("action", string(record.Action)),
		)
	}
}

// Close stops the delivery goroutine and closes the Kafka writer.
// Safe to call multiple times.
func (m *Mirror) Close() error {
	var err error

	m.closeOnce.Do(func() {
		close(m.pending)
		<-m.done
		err = m.writer.Close()
	})

	return err
}

func (m *Mirror) deliver() {
	defer close(m.done)

	for record := range m.pending {
		value, err := json.Marshal(record)
		if err != nil {
			m.logger.Error("Failed to encode audit record for mirror",
				slog.String("event_id", record.EventID),
				slog.String("error", err.Error()),
			)

			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)

		err = m.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(record.Topic + "/" + record.EventID),
			Value: value,
			Time:  time.Now().UTC(),
		})

		cancel()

		if err != nil {
			m.logger.Error("Failed to mirror audit record",
				slog.String("event_id", record.EventID),
				slog.String("topic", record.Topic),
				slog.String("action", string(record.Action)),
				slog.String("error", err.Error()),
			)
		}
	}
}
