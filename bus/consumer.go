package bus

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Result is the handler's verdict for one delivery.
type Result int

const (
	// Ack commits the message.
	Ack Result = iota
	// NackRequeue redelivers the message until maxRedeliveries, then
	// dead-letters it.
	NackRequeue
	// Reject dead-letters the message immediately.
	Reject
)

// Message is one delivery handed to a Handler.
type Message struct {
	Topic        string
	Key          string
	Value        []byte
	Headers      map[string]string
	Redeliveries int
}

// CorrelationID returns the propagated correlation id, if any.
func (m Message) CorrelationID() string {
	return m.Headers[HeaderCorrelationID]
}

// Handler processes one message. It must be idempotent: delivery is
// at-least-once.
type Handler func(ctx context.Context, msg Message) Result

// fetcher is the slice of kafka.Reader the consumer needs; tests inject a
// fake.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig tunes one queue consumer.
type ConsumerConfig struct {
	Brokers []string
	// Topic is the exchange the queue is bound to.
	Topic string
	// Queue doubles as the Kafka consumer group id.
	Queue string
	// MaxRedeliveries before dead-lettering (default 5).
	MaxRedeliveries int
	// HandlerTimeout bounds a single handler invocation (default 60s).
	HandlerTimeout time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if len(c.Brokers) == 0 {
		c.Brokers = strings.Split(getEnv("KAFKA_BROKER", "localhost:9092"), ",")
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = 5
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 60 * time.Second
	}
	return c
}

// Consumer delivers messages from one queue to a handler, one in flight per
// partition, with redelivery counting and a dead-letter policy. Commit
// happens only after the handler's verdict is resolved, so delivery is
// at-least-once.
type Consumer struct {
	cfg       ConsumerConfig
	reader    fetcher
	publisher *Publisher
	handler   Handler
	logger    *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, publisher *Publisher, handler Handler, logger *zap.Logger) *Consumer {
	cfg = cfg.withDefaults()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.Queue,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &Consumer{cfg: cfg, reader: reader, publisher: publisher, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled. In-flight handlers get their full
// timeout before the loop returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Queue consumer started",
		zap.String("queue", c.cfg.Queue),
		zap.String("topic", c.cfg.Topic),
	)
	defer c.reader.Close()

	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.Info("Queue consumer stopped", zap.String("queue", c.cfg.Queue))
				return nil
			}
			c.logger.Error("Fetch failed", zap.String("queue", c.cfg.Queue), zap.Error(err))
			continue
		}

		c.process(raw)

		// Commit regardless of verdict: redelivery and dead-lettering are
		// handled by republishing, never by replaying the offset.
		if err := c.reader.CommitMessages(context.Background(), raw); err != nil {
			c.logger.Error("Commit failed", zap.String("queue", c.cfg.Queue), zap.Error(err))
		}
	}
}

func (c *Consumer) process(raw kafka.Message) {
	msg := fromKafkaMessage(raw)

	// Extract trace context from the message headers.
	carrier := mapCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	ctx, span := otel.Tracer(c.cfg.Queue).Start(ctx, "ProcessQueueMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", c.cfg.Queue),
		attribute.Int("messaging.redeliveries", msg.Redeliveries),
	)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	verdict := c.invoke(ctx, msg)

	switch verdict {
	case Ack:
	case NackRequeue:
		if msg.Redeliveries+1 >= c.cfg.MaxRedeliveries {
			c.deadLetter(ctx, raw, msg, "max redeliveries exceeded")
			return
		}
		c.redeliver(ctx, raw, msg)
	case Reject:
		c.deadLetter(ctx, raw, msg, "rejected by handler")
	}
}

// invoke runs the handler, converting a panic into Reject so a poison
// message cannot loop.
func (c *Consumer) invoke(ctx context.Context, msg Message) (verdict Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked",
				zap.String("queue", c.cfg.Queue),
				zap.Any("panic", r),
			)
			verdict = Reject
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) redeliver(ctx context.Context, raw kafka.Message, msg Message) {
	headers := cloneHeaders(msg.Headers)
	headers[HeaderRedeliveryCount] = strconv.Itoa(msg.Redeliveries + 1)
	if err := c.publisher.PublishRaw(ctx, c.cfg.Topic, msg.Key, raw.Value, headers); err != nil {
		c.logger.Error("Redelivery publish failed",
			zap.String("queue", c.cfg.Queue),
			zap.Error(err),
		)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, raw kafka.Message, msg Message, reason string) {
	headers := cloneHeaders(msg.Headers)
	headers["x-dead-letter-reason"] = reason
	headers["x-dead-letter-queue"] = c.cfg.Queue
	topic := DeadLetterTopic(c.cfg.Queue)
	if err := c.publisher.PublishRaw(ctx, topic, msg.Key, raw.Value, headers); err != nil {
		c.logger.Error("Dead-letter publish failed",
			zap.String("queue", c.cfg.Queue),
			zap.Error(err),
		)
		return
	}
	c.logger.Warn("Message dead-lettered",
		zap.String("queue", c.cfg.Queue),
		zap.String("reason", reason),
		zap.Int("redeliveries", msg.Redeliveries),
	)
}

func fromKafkaMessage(raw kafka.Message) Message {
	headers := make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		headers[h.Key] = string(h.Value)
	}
	redeliveries := 0
	if v := headers[HeaderRedeliveryCount]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redeliveries = n
		}
	}
	return Message{
		Topic:        raw.Topic,
		Key:          string(raw.Key),
		Value:        raw.Value,
		Headers:      headers,
		Redeliveries: redeliveries,
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// mapCarrier adapts a header map to the otel TextMapCarrier interface.
type mapCarrier map[string]string

var _ propagation.TextMapCarrier = mapCarrier{}

func (c mapCarrier) Get(key string) string { return c[key] }
func (c mapCarrier) Set(key, value string) { c[key] = value }
func (c mapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
