package kafka

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/bus"
	"github.com/hmonster013/ecommerce-microservice-sub008/correlation"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

// Consumers binds the four order queues to the engine's message handlers.
type Consumers struct {
	engine    *engine.Engine
	publisher *bus.Publisher
	logger    *zap.Logger
}

func NewConsumers(eng *engine.Engine, publisher *bus.Publisher, logger *zap.Logger) *Consumers {
	return &Consumers{engine: eng, publisher: publisher, logger: logger}
}

// Start launches one consumer goroutine per queue. They run until ctx is
// cancelled.
func (c *Consumers) Start(ctx context.Context) {
	bindings := []struct {
		topic   string
		queue   string
		handler bus.Handler
	}{
		{bus.ExchangePaymentConfirmation, bus.QueuePaymentConfirmation, c.handlePaymentConfirmation},
		{bus.ExchangeInventoryUpdates, bus.QueueInventoryUpdate, c.handleInventoryUpdate},
		{bus.ExchangeShippingUpdates, bus.QueueShippingUpdate, c.handleShippingUpdate},
		{bus.ExchangeNotifications, bus.QueueNotification, c.handleNotification},
	}

	for _, b := range bindings {
		consumer := bus.NewConsumer(bus.ConsumerConfig{
			Topic: b.topic,
			Queue: b.queue,
		}, c.publisher, b.handler, c.logger)

		go func(queue string) {
			if err := consumer.Run(ctx); err != nil {
				c.logger.Error("Consumer exited", zap.String("queue", queue), zap.Error(err))
			}
		}(b.queue)
	}
}

func (c *Consumers) handlePaymentConfirmation(ctx context.Context, msg bus.Message) bus.Result {
	var body models.PaymentConfirmationMessage
	if !c.decode(msg, &body) {
		return bus.Reject
	}
	return c.verdict(c.engine.ApplyPaymentConfirmation(withCorrelation(ctx, msg), body))
}

func (c *Consumers) handleInventoryUpdate(ctx context.Context, msg bus.Message) bus.Result {
	var body models.InventoryUpdateMessage
	if !c.decode(msg, &body) {
		return bus.Reject
	}
	return c.verdict(c.engine.ApplyInventoryUpdate(withCorrelation(ctx, msg), body))
}

func (c *Consumers) handleShippingUpdate(ctx context.Context, msg bus.Message) bus.Result {
	var body models.ShippingUpdateMessage
	if !c.decode(msg, &body) {
		return bus.Reject
	}
	return c.verdict(c.engine.ApplyShippingUpdate(withCorrelation(ctx, msg), body))
}

func (c *Consumers) handleNotification(ctx context.Context, msg bus.Message) bus.Result {
	var intent models.NotificationIntent
	if !c.decode(msg, &intent) {
		return bus.Reject
	}
	if err := c.engine.ForwardNotification(withCorrelation(ctx, msg), intent); err != nil {
		// The notification service being down is transient; redeliver.
		if errs.Is(err, errs.KindUpstream) || errs.Is(err, errs.KindTimeout) {
			return bus.NackRequeue
		}
		return bus.Reject
	}
	return bus.Ack
}

// decode unwraps the event envelope when present, otherwise treats the
// value as a bare body. Malformed payloads are poison.
func (c *Consumers) decode(msg bus.Message, out any) bool {
	value := msg.Value
	var envelope bus.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err == nil && len(envelope.Payload) > 0 {
		value = envelope.Payload
	}
	if err := json.Unmarshal(value, out); err != nil {
		c.logger.Error("Malformed message body",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return false
	}
	return true
}

// verdict maps handler errors onto the queue discipline: any processing
// error dead-letters the message rather than requeueing it.
func (c *Consumers) verdict(err error) bus.Result {
	if err != nil {
		return bus.Reject
	}
	return bus.Ack
}

func withCorrelation(ctx context.Context, msg bus.Message) context.Context {
	if id := msg.CorrelationID(); id != "" {
		return correlation.With(ctx, id)
	}
	return ctx
}
