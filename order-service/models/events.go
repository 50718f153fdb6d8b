package models

// Outbound event payloads published on the order.events topic.

const (
	EventOrderCreated       = "ORDER_CREATED"
	EventOrderPlaced        = "ORDER_PLACED"
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventOrderCancelled     = "ORDER_CANCELLED"
	EventOrderRefunded      = "ORDER_REFUNDED"
)

type OrderCreatedEvent struct {
	OrderID     int64   `json:"orderId"`
	OrderNumber string  `json:"orderNumber"`
	UserID      int64   `json:"userId"`
	TotalAmount Money   `json:"totalAmount"`
	ItemCount   int     `json:"itemCount"`
	Status      OrderStatus `json:"status"`
}

type OrderStatusChangedEvent struct {
	OrderID     int64       `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Reason      string      `json:"reason,omitempty"`
}

type OrderCancelledEvent struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	UserID      int64  `json:"userId"`
	Reason      string `json:"reason,omitempty"`
}

// Inbound message bodies consumed from the four order queues.

type PaymentConfirmationMessage struct {
	OrderID int64   `json:"orderId"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"` // AUTHORIZED | CAPTURED | REFUNDED | FAILED
}

type InventoryUpdateMessage struct {
	OrderID int64  `json:"orderId"`
	Action  string `json:"action"` // RESERVE | RELEASE
	Reason  string `json:"reason,omitempty"`
}

type ShippingUpdateMessage struct {
	OrderID        int64  `json:"orderId"`
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

// NotificationIntent is forwarded to the notification engine's intent
// queue; type/priority vocabulary matches the notification models.
type NotificationIntent struct {
	UserID        int64          `json:"userId"`
	Type          string         `json:"type"`
	Channel       string         `json:"channel"`
	Priority      string         `json:"priority"`
	Subject       string         `json:"subject,omitempty"`
	Content       string         `json:"content"`
	Recipient     string         `json:"recipient,omitempty"`
	TemplateID    string         `json:"templateId,omitempty"`
	TemplateVars  map[string]any `json:"templateVars,omitempty"`
	ReferenceType string         `json:"referenceType,omitempty"`
	ReferenceID   string         `json:"referenceId,omitempty"`
}
