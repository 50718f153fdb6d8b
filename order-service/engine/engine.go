package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/bus"
	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

const (
	maxOrderNumberAttempts = 5
	eventPriorityNormal    = 5
)

// Repository is the persistence surface the engine needs. Implemented by
// database.Repository; faked in tests.
type Repository interface {
	CreateOrder(ctx context.Context, o *models.Order, audit models.OrderAudit) error
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	Mutate(ctx context.Context, orderID int64, fn func(*models.Order) (*database.Change, error)) (*models.Order, error)
	ListAudit(ctx context.Context, orderID int64) ([]models.OrderAudit, error)
	SoftDelete(ctx context.Context, orderID int64, audit models.OrderAudit) error
}

// Publisher matches bus.Publisher.Publish.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, payload any, priority int) error
}

// Inventory is the product-service stock integration.
type Inventory interface {
	Reserve(ctx context.Context, o *models.Order) error
	Release(ctx context.Context, orderID int64) error
}

// Payments is the payment-service integration.
type Payments interface {
	Authorize(ctx context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error)
	Capture(ctx context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error)
	Void(ctx context.Context, orderID int64) error
	Refund(ctx context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error)
}

// Notifier delivers notification intents to the notification engine.
type Notifier interface {
	Send(ctx context.Context, req clients.NotificationRequest) error
}

// IdempotencyStore remembers which order number an Idempotency-Key
// produced so replays return the original order.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (orderNumber string, found bool, err error)
	Store(ctx context.Context, key, orderNumber string) error
}

// Engine owns the order lifecycle: creation, transitions, orchestration of
// downstream calls and the audit trail.
type Engine struct {
	repo      Repository
	publisher Publisher
	inventory Inventory
	payments  Payments
	notifier  Notifier
	idem      IdempotencyStore
	clk       clock.Clock
	logger    *zap.Logger

	// newOrderNumber is swapped in tests to force collisions.
	newOrderNumber func() string
}

func New(
	repo Repository,
	publisher Publisher,
	inventory Inventory,
	payments Payments,
	notifier Notifier,
	idem IdempotencyStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{
		repo:           repo,
		publisher:      publisher,
		inventory:      inventory,
		payments:       payments,
		notifier:       notifier,
		idem:           idem,
		clk:            clk,
		logger:         logger,
		newOrderNumber: generateOrderNumber,
	}
}

// generateOrderNumber returns "ORD-" plus 8 uniform random upper-hex
// characters.
func generateOrderNumber() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "ORD-" + strings.ToUpper(hex.EncodeToString(b[:]))
}

// CreateOrder validates the request, assigns a unique order number and
// persists the order atomically with its items and creation audit. With an
// Idempotency-Key a replay returns the originally created order.
func (e *Engine) CreateOrder(ctx context.Context, req models.CreateOrderRequest, p identity.Principal, clientIP, idempotencyKey string) (*models.Order, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	if idempotencyKey != "" && e.idem != nil {
		if number, found, err := e.idem.Lookup(ctx, idempotencyKey); err != nil {
			e.logger.Warn("Idempotency lookup failed", zap.Error(err))
		} else if found {
			return e.repo.GetOrderByNumber(ctx, number)
		}
	}

	order := buildOrder(req, p)
	order.ComputeTotals()

	var lastErr error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = e.newOrderNumber()
		exists, err := e.repo.OrderNumberExists(ctx, order.OrderNumber)
		if err != nil {
			return nil, err
		}
		if exists {
			lastErr = errs.New(errs.KindConflict, "order number already exists")
			continue
		}

		actor := p.UserID
		err = e.repo.CreateOrder(ctx, order, models.OrderAudit{
			Action:      "CREATE_ORDER",
			ActorUserID: &actor,
			IPAddress:   clientIP,
		})
		if err == nil {
			lastErr = nil
			break
		}
		if errs.Is(err, errs.KindConflict) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		middleware.RecordOrderOperation("create", "collision")
		return nil, errs.Wrap(errs.KindInternal, "could not assign a unique order number", lastErr)
	}

	if idempotencyKey != "" && e.idem != nil {
		if err := e.idem.Store(ctx, idempotencyKey, order.OrderNumber); err != nil {
			e.logger.Warn("Idempotency store failed", zap.Error(err))
		}
	}

	e.publishEvent(ctx, models.EventOrderCreated, order.OrderNumber, models.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TotalAmount: order.Total(),
		ItemCount:   len(order.Items),
		Status:      order.Status,
	})
	middleware.RecordOrderOperation("create", "success")

	e.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
	)
	return order, nil
}

func validateCreate(req models.CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return errs.Validation("items must not be empty", map[string]string{"items": "required"})
	}
	if !models.ValidCurrency(req.Currency) {
		return errs.Validation("unsupported currency", map[string]string{"currency": req.Currency})
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return errs.Validation("quantity must be positive",
				map[string]string{fmt.Sprintf("items[%d].quantity", i): "must be > 0"})
		}
		if item.UnitPrice < 0 || item.Discount < 0 || item.Tax < 0 {
			return errs.Validation("monetary item fields must be non-negative",
				map[string]string{fmt.Sprintf("items[%d]", i): "negative amount"})
		}
	}
	return nil
}

func buildOrder(req models.CreateOrderRequest, p identity.Principal) *models.Order {
	orderType := req.Type
	if orderType == "" {
		orderType = models.OrderTypeStandard
	}
	priority := req.Priority
	if priority < 1 || priority > 5 {
		priority = 3
	}

	order := &models.Order{
		UserID:                  p.UserID,
		Status:                  models.OrderStatusPending,
		Type:                    orderType,
		Currency:                strings.ToUpper(req.Currency),
		TaxAmount:               req.TaxAmount,
		ShippingAmount:          req.ShippingAmount,
		DiscountAmount:          req.DiscountAmount,
		ShippingAddress:         req.ShippingAddress,
		BillingAddress:          req.BillingAddress,
		IsGift:                  req.IsGift,
		RequiresSpecialHandling: req.RequiresSpecialHandling,
		Priority:                priority,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			Tax:       item.Tax,
		})
	}
	return order
}

// GetOrder and friends are thin pass-throughs kept on the engine so the
// HTTP layer has a single dependency.
func (e *Engine) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return e.repo.GetOrder(ctx, id)
}

func (e *Engine) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return e.repo.GetOrderByNumber(ctx, number)
}

func (e *Engine) ListAudit(ctx context.Context, orderID int64) ([]models.OrderAudit, error) {
	return e.repo.ListAudit(ctx, orderID)
}

func (e *Engine) DeleteOrder(ctx context.Context, orderID int64, actor identity.Principal) error {
	actorID := actor.UserID
	return e.repo.SoftDelete(ctx, orderID, models.OrderAudit{
		Action:      "DELETE_ORDER",
		ActorUserID: &actorID,
	})
}

// publishEvent publishes on the order events topic; failures are logged
// and never fail the originating write.
func (e *Engine) publishEvent(ctx context.Context, eventType, key string, payload any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, bus.ExchangeOrderEvents, key, eventType, payload, eventPriorityNormal); err != nil {
		e.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func auditPayload(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
