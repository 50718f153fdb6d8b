package models

import (
	"encoding/json"
	"time"
)

type OrderType string

const (
	OrderTypeStandard     OrderType = "STANDARD"
	OrderTypeExpress      OrderType = "EXPRESS"
	OrderTypeSubscription OrderType = "SUBSCRIPTION"
)

type Order struct {
	ID          int64       `json:"id"`
	OrderNumber string      `json:"orderNumber"`
	UserID      int64       `json:"userId"`
	Status      OrderStatus `json:"status"`
	Type        OrderType   `json:"type"`
	Items       []OrderItem `json:"items,omitempty"`

	Currency       string  `json:"currency"`
	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"taxAmount"`
	ShippingAmount float64 `json:"shippingAmount"`
	DiscountAmount float64 `json:"discountAmount"`
	TotalAmount    float64 `json:"-"`

	ShippingAddress string `json:"shippingAddress,omitempty"`
	BillingAddress  string `json:"billingAddress,omitempty"`

	IsGift                  bool `json:"isGift"`
	RequiresSpecialHandling bool `json:"requiresSpecialHandling"`
	Priority                int  `json:"priority"`

	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	ExpectedDeliveryAt *time.Time `json:"expectedDeliveryAt,omitempty"`
	ActualDeliveryAt   *time.Time `json:"actualDeliveryAt,omitempty"`
	DeletedAt          *time.Time `json:"-"`
}

// Total returns the order total as Money. The stored amount already honors
// total = max(0, subtotal + tax + shipping - discount).
func (o *Order) Total() Money {
	return Money{Amount: o.TotalAmount, Currency: o.Currency}
}

// MarshalJSON renders the total as a Money object alongside the flat
// monetary fields.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		TotalAmount Money `json:"totalAmount"`
	}{alias(o), o.Total()})
}

type OrderItem struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"orderId"`
	ProductID int64  `json:"productId"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`

	UnitPrice  float64 `json:"unitPrice"`
	Discount   float64 `json:"discount"`
	Tax        float64 `json:"tax"`
	TotalPrice float64 `json:"totalPrice"`
	FinalPrice float64 `json:"finalPrice"`
}

// Recompute derives totalPrice and finalPrice from the inputs. Calling it
// again on its own output changes nothing.
func (i *OrderItem) Recompute() {
	i.TotalPrice = float64(i.Quantity) * i.UnitPrice
	i.FinalPrice = i.TotalPrice - i.Discount + i.Tax
}

// ComputeTotals fills the money fields from the items, rounding to the
// order currency's fraction digits with banker's rounding.
func (o *Order) ComputeTotals() {
	var subtotal float64
	for idx := range o.Items {
		o.Items[idx].Recompute()
		subtotal += o.Items[idx].TotalPrice
	}
	o.Subtotal = RoundAmount(subtotal, o.Currency)

	total := o.Subtotal + o.TaxAmount + o.ShippingAmount - o.DiscountAmount
	if total < 0 {
		total = 0
	}
	o.TotalAmount = RoundAmount(total, o.Currency)
}

// OrderAudit is one append-only row per accepted write action.
type OrderAudit struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"orderId"`
	Action      string    `json:"action"`
	ActorUserID *int64    `json:"actorUserId,omitempty"`
	ActionAt    time.Time `json:"actionAt"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	Payload     string    `json:"payload,omitempty"`
}

// OrderShipping tracks the latest carrier state for an order.
type OrderShipping struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"orderId"`
	Status         string    `json:"status"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CreateOrderItem struct {
	ProductID int64   `json:"productId" binding:"required"`
	SKU       string  `json:"sku" binding:"required"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" binding:"gte=0"`
	Discount  float64 `json:"discount" binding:"gte=0"`
	Tax       float64 `json:"tax" binding:"gte=0"`
}

type CreateOrderRequest struct {
	Items    []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
	Currency string            `json:"currency" binding:"required"`
	Type     OrderType         `json:"type"`

	TaxAmount      float64 `json:"taxAmount" binding:"gte=0"`
	ShippingAmount float64 `json:"shippingAmount" binding:"gte=0"`
	DiscountAmount float64 `json:"discountAmount" binding:"gte=0"`

	ShippingAddress string `json:"shippingAddress"`
	BillingAddress  string `json:"billingAddress"`

	IsGift                  bool `json:"isGift"`
	RequiresSpecialHandling bool `json:"requiresSpecialHandling"`
	Priority                int  `json:"priority"`

	// Capture merges authorize+capture into one payment step during
	// completeProcessing.
	Capture bool `json:"capture"`
}

type TransitionRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
	Reason string      `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}
