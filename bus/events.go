package bus

import (
	"encoding/json"
	"time"

	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

// Exchange topics. Names are compatibility-critical.
const (
	ExchangePaymentConfirmation = "payment.confirmation"
	ExchangeInventoryUpdates    = "inventory.updates"
	ExchangeShippingUpdates     = "shipping.updates"
	ExchangeNotifications       = "notifications"
	ExchangeEngagementEvents    = "engagement.events"
	ExchangeOrderEvents         = "order.events"
)

// Queues map onto Kafka consumer groups reading the matching exchange.
const (
	QueuePaymentConfirmation = "order.payment.confirmation"
	QueueInventoryUpdate     = "order.inventory.update"
	QueueShippingUpdate      = "order.shipping.update"
	QueueNotification        = "order.notification"
)

// Message headers managed by the adapter.
const (
	HeaderCorrelationID   = "correlationId"
	HeaderEventType       = "eventType"
	HeaderPriority        = "priority"
	HeaderRedeliveryCount = "x-redelivery-count"
)

// DeadLetterTopic returns the dead-letter topic for a queue.
func DeadLetterTopic(queue string) string {
	return queue + ".dlq"
}

// EngagementRoutingKey derives the routing key for an engagement type,
// e.g. "opened" -> "engagement.opened".
func EngagementRoutingKey(engagementType string) string {
	return "engagement." + engagementType
}

// Envelope is the wire shape of every published event.
type Envelope struct {
	EventType     string          `json:"eventType"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlationId"`
	OccurredAt    string          `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload into the versioned event envelope.
func NewEnvelope(eventType, correlationID string, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:     eventType,
		Version:       1,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt.UTC().Format(response.TimeLayout),
		Payload:       raw,
	}, nil
}
