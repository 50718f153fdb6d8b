package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

// PlaceOrder confirms a pending order and enqueues the place token keyed
// by orderNumber; processing is picked up asynchronously.
func (e *Engine) PlaceOrder(ctx context.Context, orderID int64, actor identity.Principal) (*models.Order, error) {
	order, err := e.transition(ctx, orderID, models.OrderStatusConfirmed, "order placed", actor, "PLACE_ORDER")
	if err != nil {
		return nil, err
	}

	e.publishEvent(ctx, models.EventOrderPlaced, order.OrderNumber, models.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		From:        models.OrderStatusPending,
		To:          order.Status,
	})
	middleware.RecordOrderOperation("place", "success")
	return order, nil
}

// StartProcessing reserves inventory, prices shipping and moves the order
// to PROCESSING. A reservation failure fails the order with an audit
// reason.
func (e *Engine) StartProcessing(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !allowedFrom(order.Status, models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusPaid) ||
		!order.Status.CanTransitionTo(models.OrderStatusProcessing) {
		return nil, transitionConflict(order.Status, models.OrderStatusProcessing)
	}

	if err := e.inventory.Reserve(ctx, order); err != nil {
		e.logger.Warn("Inventory reservation failed",
			zap.Int64("order_id", orderID), zap.Error(err))
		_, failErr := e.repo.Mutate(ctx, orderID, func(o *models.Order) (*database.Change, error) {
			if !o.Status.CanTransitionTo(models.OrderStatusFailed) {
				return nil, nil
			}
			o.Status = models.OrderStatusFailed
			return &database.Change{Order: o, Audits: []models.OrderAudit{{
				Action:  "ORDER_FAILED",
				Payload: auditPayload(map[string]string{"reason": "inventory reservation failed"}),
			}}}, nil
		})
		if failErr != nil {
			e.logger.Error("Failed to mark order failed", zap.Error(failErr))
		}
		middleware.RecordOrderOperation("start_processing", "inventory_failed")
		return nil, errs.Wrap(errs.KindUpstream, "inventory reservation failed", err)
	}

	shipping := quoteShipping(order)

	updated, err := e.repo.Mutate(ctx, orderID, func(o *models.Order) (*database.Change, error) {
		if !o.Status.CanTransitionTo(models.OrderStatusProcessing) {
			return nil, transitionConflict(o.Status, models.OrderStatusProcessing)
		}
		from := o.Status
		o.Status = models.OrderStatusProcessing
		o.ShippingAmount = shipping
		o.ComputeTotals()
		return &database.Change{Order: o, Audits: []models.OrderAudit{{
			Action:  "START_PROCESSING",
			Payload: auditPayload(map[string]any{"from": from, "shippingAmount": shipping}),
		}}}, nil
	})
	if err != nil {
		return nil, err
	}

	e.publishEvent(ctx, models.EventOrderStatusChanged, updated.OrderNumber, models.OrderStatusChangedEvent{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		From:        order.Status,
		To:          updated.Status,
	})
	middleware.RecordOrderOperation("start_processing", "success")
	return updated, nil
}

// quoteShipping prices delivery from the order contents. Express and
// special-handling orders pay a surcharge.
func quoteShipping(o *models.Order) float64 {
	units := 0
	for _, item := range o.Items {
		units += item.Quantity
	}
	quote := 4.99 + 0.5*float64(units)
	if o.Type == models.OrderTypeExpress {
		quote += 10
	}
	if o.RequiresSpecialHandling {
		quote += 5
	}
	return models.RoundAmount(quote, o.Currency)
}

// CompleteProcessing authorizes (and optionally captures) payment, creates
// the shipment and moves the order to PREPARING with an OrderPlaced
// notification intent.
func (e *Engine) CompleteProcessing(ctx context.Context, orderID int64, capture bool) (*models.Order, error) {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusPreparing) || order.Status != models.OrderStatusProcessing {
		return nil, transitionConflict(order.Status, models.OrderStatusPreparing)
	}

	payReq := clients.PaymentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Capture:  capture,
	}
	if _, err := e.payments.Authorize(ctx, payReq); err != nil {
		middleware.RecordOrderOperation("complete_processing", "payment_failed")
		return nil, errs.Wrap(errs.KindUpstream, "payment authorization failed", err)
	}
	if !capture {
		if _, err := e.payments.Capture(ctx, payReq); err != nil {
			middleware.RecordOrderOperation("complete_processing", "payment_failed")
			return nil, errs.Wrap(errs.KindUpstream, "payment capture failed", err)
		}
	}

	updated, err := e.repo.Mutate(ctx, orderID, func(o *models.Order) (*database.Change, error) {
		if o.Status != models.OrderStatusProcessing {
			return nil, transitionConflict(o.Status, models.OrderStatusPreparing)
		}
		o.Status = models.OrderStatusPreparing
		return &database.Change{
			Order: o,
			Audits: []models.OrderAudit{{Action: "COMPLETE_PROCESSING"}},
			Shipping: &models.OrderShipping{Status: "CREATED"},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.sendIntent(ctx, clients.NotificationRequest{
		UserID:        updated.UserID,
		Type:          "ORDER_PLACED",
		Channel:       "EMAIL",
		Priority:      "NORMAL",
		Subject:       "Your order " + updated.OrderNumber,
		Content:       fmt.Sprintf("Order %s is being prepared.", updated.OrderNumber),
		ReferenceType: "ORDER",
		ReferenceID:   updated.OrderNumber,
	})
	middleware.RecordOrderOperation("complete_processing", "success")
	return updated, nil
}

// CancelOrder cancels when the lifecycle allows it, releases inventory and
// voids an authorization that was never captured.
func (e *Engine) CancelOrder(ctx context.Context, orderID int64, reason string, actor identity.Principal, clientIP string) (*models.Order, error) {
	var wasAuthorized bool
	actorID := actor.UserID

	updated, err := e.repo.Mutate(ctx, orderID, func(o *models.Order) (*database.Change, error) {
		if !o.Status.CanBeCancelled() {
			return nil, errs.New(errs.KindConflict, "Order cannot be cancelled")
		}
		wasAuthorized = o.Status == models.OrderStatusPaymentAuthorized
		now := e.clk.Now().UTC()
		o.Status = models.OrderStatusCancelled
		o.CancelledAt = &now
		return &database.Change{Order: o, Audits: []models.OrderAudit{{
			Action:      "CANCEL_ORDER",
			ActorUserID: &actorID,
			IPAddress:   clientIP,
			Payload:     auditPayload(map[string]string{"reason": reason}),
		}}}, nil
	})
	if err != nil {
		middleware.RecordOrderOperation("cancel", "rejected")
		return nil, err
	}

	if err := e.inventory.Release(ctx, orderID); err != nil {
		e.logger.Warn("Inventory release failed after cancel",
			zap.Int64("order_id", orderID), zap.Error(err))
	}
	if wasAuthorized {
		if err := e.payments.Void(ctx, orderID); err != nil {
			e.logger.Warn("Payment void failed after cancel",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	e.publishEvent(ctx, models.EventOrderCancelled, updated.OrderNumber, models.OrderCancelledEvent{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Reason:      reason,
	})
	middleware.RecordOrderOperation("cancel", "success")
	return updated, nil
}

// RefundOrder refunds the payment and marks the order REFUNDED.
func (e *Engine) RefundOrder(ctx context.Context, orderID int64, actor identity.Principal) (*models.Order, error) {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusRefunded) {
		return nil, transitionConflict(order.Status, models.OrderStatusRefunded)
	}

	if _, err := e.payments.Refund(ctx, clients.PaymentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
	}); err != nil {
		middleware.RecordOrderOperation("refund", "payment_failed")
		return nil, errs.Wrap(errs.KindUpstream, "payment refund failed", err)
	}

	updated, err := e.transition(ctx, orderID, models.OrderStatusRefunded, "refund requested", actor, "REFUND_ORDER")
	if err != nil {
		return nil, err
	}

	e.publishEvent(ctx, models.EventOrderRefunded, updated.OrderNumber, models.OrderStatusChangedEvent{
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		From:        order.Status,
		To:          updated.Status,
	})
	middleware.RecordOrderOperation("refund", "success")
	return updated, nil
}

// Transition applies an explicit transition request.
func (e *Engine) Transition(ctx context.Context, orderID int64, target models.OrderStatus, reason string, actor identity.Principal) (*models.Order, error) {
	order, err := e.transition(ctx, orderID, target, reason, actor, "TRANSITION")
	if err != nil {
		middleware.RecordOrderOperation("transition", "rejected")
		return nil, err
	}
	middleware.RecordOrderOperation("transition", "success")
	return order, nil
}

// transition is the shared guarded status write. A same-state transition
// persists only the audit row.
func (e *Engine) transition(ctx context.Context, orderID int64, target models.OrderStatus, reason string, actor identity.Principal, action string) (*models.Order, error) {
	actorID := actor.UserID
	var from models.OrderStatus

	updated, err := e.repo.Mutate(ctx, orderID, func(o *models.Order) (*database.Change, error) {
		if !o.Status.CanTransitionTo(target) {
			return nil, transitionConflict(o.Status, target)
		}
		from = o.Status

		audit := models.OrderAudit{
			Action:      action,
			ActorUserID: &actorID,
			Payload:     auditPayload(map[string]any{"from": o.Status, "to": target, "reason": reason}),
		}
		if o.Status == target {
			return &database.Change{Audits: []models.OrderAudit{audit}}, nil
		}

		o.Status = target
		stampTransition(o, target, e.clk.Now())
		return &database.Change{Order: o, Audits: []models.OrderAudit{audit}}, nil
	})
	if err != nil {
		return nil, err
	}

	if from != updated.Status {
		e.publishEvent(ctx, models.EventOrderStatusChanged, updated.OrderNumber, models.OrderStatusChangedEvent{
			OrderID:     updated.ID,
			OrderNumber: updated.OrderNumber,
			From:        from,
			To:          updated.Status,
			Reason:      reason,
		})
	}
	return updated, nil
}

func stampTransition(o *models.Order, target models.OrderStatus, now time.Time) {
	ts := now.UTC()
	switch target {
	case models.OrderStatusConfirmed:
		o.ConfirmedAt = &ts
	case models.OrderStatusCancelled:
		o.CancelledAt = &ts
	case models.OrderStatusDelivered:
		o.ActualDeliveryAt = &ts
	}
}

func transitionConflict(from, to models.OrderStatus) error {
	return errs.Newf(errs.KindConflict, "transition %s -> %s is not permitted", from, to)
}

func allowedFrom(s models.OrderStatus, allowed ...models.OrderStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// sendIntent forwards a notification intent; failures never fail the
// order write that triggered them.
func (e *Engine) sendIntent(ctx context.Context, req clients.NotificationRequest) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, req); err != nil {
		e.logger.Warn("Notification intent delivery failed",
			zap.String("type", req.Type), zap.Error(err))
	}
}
