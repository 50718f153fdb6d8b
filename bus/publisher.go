package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/correlation"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

// SyncProducer is the slice of sarama.SyncProducer the publisher needs.
type SyncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// InitProducer builds a sarama sync producer that waits for full broker
// acknowledgement.
func InitProducer(logger *zap.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	brokers := strings.Split(getEnv("KAFKA_BROKER", "localhost:9092"), ",")

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized")
	return producer, nil
}

// Publisher serializes events into the versioned envelope and publishes
// them with correlation, priority and trace headers.
type Publisher struct {
	producer SyncProducer
	service  string
	logger   *zap.Logger
}

func NewPublisher(producer SyncProducer, service string, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, service: service, logger: logger}
}

// Publish wraps payload into the envelope and awaits broker ack. Priority
// is clamped to 0..9 and carried in broker metadata.
func (p *Publisher) Publish(ctx context.Context, topic, key, eventType string, payload any, priority int) error {
	ctx, correlationID := correlation.Ensure(ctx)
	envelope, err := NewEnvelope(eventType, correlationID, time.Now(), payload)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "encode event payload", err)
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "encode event envelope", err)
	}

	headers := map[string]string{
		HeaderCorrelationID: correlationID,
		HeaderEventType:     eventType,
		HeaderPriority:      strconv.Itoa(clampPriority(priority)),
	}
	return p.PublishRaw(ctx, topic, key, value, headers)
}

// PublishRaw publishes a pre-encoded message. Used for dead-lettering and
// redelivery, where the original bytes must be preserved.
func (p *Publisher) PublishRaw(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	// Inject trace context into Kafka message headers.
	carrier := saramaHeaderCarrier(msg.Headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []sarama.RecordHeader(carrier)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("Event publish failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return errs.Wrap(errs.KindUpstream, "publish failed", err)
	}

	p.logger.Info("Event published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 9 {
		return 9
	}
	return p
}

// saramaHeaderCarrier implements the TextMapCarrier interface for Kafka
// headers (for producer).
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
