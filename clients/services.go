package clients

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

// Fabric bundles one typed client per downstream service, each behind its
// named circuit breaker.
type Fabric struct {
	User         *UserClient
	Product      *ProductClient
	Cart         *CartClient
	Order        *OrderClient
	Payment      *PaymentClient
	Notification *NotificationClient
}

func NewFabric(registry *circuitbreaker.Registry, resolver discovery.Resolver, opts Options, logger *zap.Logger) *Fabric {
	mk := func(service, breakerName string) *Client {
		return NewClient(service, registry.Get(breakerName), resolver, opts, logger)
	}
	return &Fabric{
		User:         &UserClient{c: mk(discovery.UserService, circuitbreaker.UserServiceBreaker)},
		Product:      &ProductClient{c: mk(discovery.ProductService, circuitbreaker.ProductServiceBreaker)},
		Cart:         &CartClient{c: mk(discovery.CartService, circuitbreaker.CartServiceBreaker)},
		Order:        &OrderClient{c: mk(discovery.OrderService, circuitbreaker.OrderServiceBreaker)},
		Payment:      &PaymentClient{c: mk(discovery.PaymentService, circuitbreaker.PaymentServiceBreaker)},
		Notification: &NotificationClient{c: mk(discovery.NotificationService, circuitbreaker.NotificationServiceBreaker)},
	}
}

// --- user-service ---

type UserClient struct{ c *Client }

type User struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
	Fallback  bool     `json:"fallback"`
}

func (u *UserClient) GetUser(ctx context.Context, userID int64) (*User, error) {
	var out User
	err := u.c.Do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", userID), nil, &out)
	if err != nil {
		if errs.Is(err, errs.KindUpstream) {
			// Degraded but total: identity only.
			return &User{ID: userID, Fallback: true}, nil
		}
		return nil, err
	}
	return &out, nil
}

// --- product-catalog-service ---

type ProductClient struct{ c *Client }

type Product struct {
	ID       int64   `json:"id"`
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Fallback bool    `json:"fallback"`
}

type Availability struct {
	ProductID int64 `json:"productId"`
	Available bool  `json:"available"`
	Stock     int   `json:"stock"`
	Fallback  bool  `json:"fallback"`
}

type Pricing struct {
	ProductID int64   `json:"productId"`
	UnitPrice float64 `json:"unitPrice"`
	Currency  string  `json:"currency"`
	Available bool    `json:"available"`
	Fallback  bool    `json:"fallback"`
}

func (p *ProductClient) GetProduct(ctx context.Context, productID int64) (*Product, error) {
	var out Product
	if err := p.c.Do(ctx, http.MethodGet, fmt.Sprintf("/products/%d", productID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *ProductClient) CheckAvailability(ctx context.Context, productID int64, quantity int) (*Availability, error) {
	path := fmt.Sprintf("/products/%d/availability?quantity=%d", productID, quantity)
	var out Availability
	err := p.c.Do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		if errs.Is(err, errs.KindUpstream) || errs.Is(err, errs.KindTimeout) {
			return &Availability{ProductID: productID, Available: false, Fallback: true}, nil
		}
		return nil, err
	}
	return &out, nil
}

// GetPricing degrades to zero pricing with Available=false so order
// validation can reject instead of crashing.
func (p *ProductClient) GetPricing(ctx context.Context, productID int64) (*Pricing, error) {
	var out Pricing
	err := p.c.Do(ctx, http.MethodGet, fmt.Sprintf("/products/%d/pricing", productID), nil, &out)
	if err != nil {
		if errs.Is(err, errs.KindUpstream) || errs.Is(err, errs.KindTimeout) {
			return &Pricing{ProductID: productID, UnitPrice: 0, Available: false, Fallback: true}, nil
		}
		return nil, err
	}
	return &out, nil
}

type InventoryItem struct {
	ProductID int64  `json:"productId"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

type InventoryRequest struct {
	OrderID int64           `json:"orderId"`
	Items   []InventoryItem `json:"items,omitempty"`
}

// ReserveInventory is idempotent by order id on the product service side;
// the key makes the POST retryable too.
func (p *ProductClient) ReserveInventory(ctx context.Context, req InventoryRequest) error {
	key := fmt.Sprintf("inv-reserve-%d", req.OrderID)
	return p.c.Do(ctx, http.MethodPost, "/inventory/reserve", req, nil, WithIdempotencyKey(key))
}

func (p *ProductClient) ReleaseInventory(ctx context.Context, orderID int64) error {
	key := fmt.Sprintf("inv-release-%d", orderID)
	return p.c.Do(ctx, http.MethodPost, "/inventory/release",
		InventoryRequest{OrderID: orderID}, nil, WithIdempotencyKey(key))
}

// --- shopping-cart-service ---

type CartClient struct{ c *Client }

type CartItem struct {
	ProductID int64   `json:"productId"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type Cart struct {
	UserID   int64      `json:"userId"`
	Items    []CartItem `json:"items"`
	Currency string     `json:"currency"`
	Fallback bool       `json:"fallback"`
}

func (cc *CartClient) GetCart(ctx context.Context, userID int64) (*Cart, error) {
	var out Cart
	if err := cc.c.Do(ctx, http.MethodGet, fmt.Sprintf("/carts/%d", userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cc *CartClient) ClearCart(ctx context.Context, userID int64) error {
	return cc.c.Do(ctx, http.MethodDelete, fmt.Sprintf("/carts/%d", userID), nil, nil)
}

// --- order-service ---

type OrderClient struct{ c *Client }

type OrderSummary struct {
	ID          int64   `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	UserID      int64   `json:"userId"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
	Currency    string  `json:"currency"`
	Fallback    bool    `json:"fallback"`
}

func (oc *OrderClient) GetOrder(ctx context.Context, orderID int64) (*OrderSummary, error) {
	var out OrderSummary
	if err := oc.c.Do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- payment-service ---

type PaymentClient struct{ c *Client }

type PaymentRequest struct {
	OrderID  int64   `json:"orderId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	// Capture merges authorize+capture into one round trip.
	Capture bool `json:"capture,omitempty"`
}

type PaymentResult struct {
	OrderID       int64  `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Fallback      bool   `json:"fallback"`
}

func (pc *PaymentClient) Authorize(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	key := fmt.Sprintf("pay-auth-%d", req.OrderID)
	if err := pc.c.Do(ctx, http.MethodPost, "/payments/authorize", req, &out, WithIdempotencyKey(key)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (pc *PaymentClient) Capture(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	key := fmt.Sprintf("pay-capture-%d", req.OrderID)
	if err := pc.c.Do(ctx, http.MethodPost, "/payments/capture", req, &out, WithIdempotencyKey(key)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (pc *PaymentClient) Void(ctx context.Context, orderID int64) error {
	key := fmt.Sprintf("pay-void-%d", orderID)
	return pc.c.Do(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/void", orderID), nil, nil, WithIdempotencyKey(key))
}

func (pc *PaymentClient) Refund(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	key := fmt.Sprintf("pay-refund-%d", req.OrderID)
	if err := pc.c.Do(ctx, http.MethodPost, "/payments/refund", req, &out, WithIdempotencyKey(key)); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- notification-service ---

type NotificationClient struct{ c *Client }

type NotificationRequest struct {
	UserID           int64          `json:"userId"`
	Type             string         `json:"type"`
	Channel          string         `json:"channel"`
	Priority         string         `json:"priority"`
	Subject          string         `json:"subject,omitempty"`
	Content          string         `json:"content"`
	RecipientAddress string         `json:"recipientAddress"`
	TemplateID       string         `json:"templateId,omitempty"`
	TemplateVars     map[string]any `json:"templateVariables,omitempty"`
	ReferenceType    string         `json:"referenceType,omitempty"`
	ReferenceID      string         `json:"referenceId,omitempty"`
}

func (nc *NotificationClient) Send(ctx context.Context, req NotificationRequest) error {
	key := fmt.Sprintf("notify-%s-%s-%d", req.Type, req.ReferenceID, req.UserID)
	return nc.c.Do(ctx, http.MethodPost, "/notifications", req, nil, WithIdempotencyKey(key))
}
