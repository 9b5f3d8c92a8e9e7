package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("kafka publisher is closed")

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher delivers audited core events to Kafka. Every event type
// goes to TopicPrefix + its topic ("order", "trade", "breaker"), keyed by
// pair so one partition sees a pair's events in pair sequence order.
type KafkaPublisher struct {
	brokers []string
	prefix  string
	source  string
	writer  messageWriter
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// KafkaConfig contains configuration options for KafkaPublisher
type KafkaConfig struct {
	Brokers         []string
	TopicPrefix     string
	Source          string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	RequiredAcks    int
	Compression     string
	MaxMessageBytes int
	RetryMax        int
}

// DefaultKafkaConfig returns settings tuned for low-latency settlement feeds.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		TopicPrefix:     "tradingcore.",
		Source:          "tradingcore",
		BatchSize:       100,
		BatchTimeout:    5 * time.Millisecond,
		WriteTimeout:    time.Second,
		RequiredAcks:    int(kafka.RequireAll), // settlement must not lose fills
		Compression:     "snappy",
		MaxMessageBytes: 1048576,
		RetryMax:        3,
	}
}

// NewKafkaPublisher creates a publisher writing to cfg.Brokers.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher needs at least one broker")
	}
	def := DefaultKafkaConfig()
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.RetryMax,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		Async:        false,
	}
	switch cfg.Compression {
	case "gzip":
		w.Compression = kafka.Gzip
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	case "none":
	default:
		w.Compression = kafka.Snappy
	}
	return newKafkaPublisher(cfg, w, logger), nil
}

func newKafkaPublisher(cfg KafkaConfig, w messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: cfg.Brokers,
		prefix:  cfg.TopicPrefix,
		source:  cfg.Source,
		writer:  w,
		logger:  logger.Named("kafka"),
	}
}

// Publish writes one batch synchronously. A failed write fails the whole
// batch and the outbox retries it.
func (p *KafkaPublisher) Publish(ctx context.Context, batch []events.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for i := range batch {
		msg, err := p.message(&batch[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("Failed to publish events to Kafka",
			zap.Int("events", len(msgs)),
			zap.String("pair", batch[0].Pair.String()),
			zap.Error(err))
		return fmt.Errorf("publish %d events to kafka: %w", len(msgs), err)
	}
	p.logger.Debug("Published events", zap.Int("events", len(msgs)))
	return nil
}

// Topic returns the topic an event type is written to.
func (p *KafkaPublisher) Topic(t events.Type) string {
	return p.prefix + t.Topic()
}

func (p *KafkaPublisher) message(ev *events.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	pair := ev.Pair.String()
	return kafka.Message{
		Topic: p.Topic(ev.Type),
		Key:   []byte(pair),
		Value: data,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(p.source)},
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "pair", Value: []byte(pair)},
			{Key: "pair_seq", Value: []byte(strconv.FormatUint(ev.PairSeq, 10))},
			{Key: "tenant_id", Value: []byte(ev.TenantID)},
		},
		Time: ev.Timestamp,
	}, nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Error closing Kafka writer", zap.Error(err))
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// IsHealthy dials the first broker and reads the partitions of the trade
// topic.
func (p *KafkaPublisher) IsHealthy(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(p.Topic(events.TypeFill)); err != nil {
		return fmt.Errorf("failed to read topic partitions: %w", err)
	}
	return nil
}

var _ events.Publisher = (*KafkaPublisher)(nil)
