package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

// ApplyPaymentConfirmation reacts to payment-service outcomes. CAPTURED
// moves PAYMENT_AUTHORIZED|PROCESSING to PAID and emits the
// PAYMENT_CONFIRMED intent; REFUNDED for an order that never reached a
// refundable state is recorded as a no-op audit, not an error.
func (e *Engine) ApplyPaymentConfirmation(ctx context.Context, msg models.PaymentConfirmationMessage) error {
	switch msg.Status {
	case "AUTHORIZED":
		return e.applyGuarded(ctx, msg.OrderID, "PAYMENT_AUTHORIZED", func(o *models.Order) (*database.Change, error) {
			if o.Status == models.OrderStatusPaymentAuthorized {
				return nil, nil
			}
			if !o.Status.CanTransitionTo(models.OrderStatusPaymentAuthorized) {
				return nil, transitionConflict(o.Status, models.OrderStatusPaymentAuthorized)
			}
			o.Status = models.OrderStatusPaymentAuthorized
			return &database.Change{Order: o, Audits: []models.OrderAudit{{
				Action:  "PAYMENT_AUTHORIZED",
				Payload: auditPayload(msg),
			}}}, nil
		})

	case "CAPTURED":
		var captured *models.Order
		err := e.applyGuarded(ctx, msg.OrderID, "PAYMENT_CAPTURED", func(o *models.Order) (*database.Change, error) {
			if o.Status != models.OrderStatusPaymentAuthorized && o.Status != models.OrderStatusProcessing {
				e.logger.Info("Ignoring payment capture outside authorized/processing",
					zap.Int64("order_id", o.ID), zap.String("status", string(o.Status)))
				return nil, nil
			}
			o.Status = models.OrderStatusPaid
			captured = o
			return &database.Change{Order: o, Audits: []models.OrderAudit{{
				Action:  "PAYMENT_CAPTURED",
				Payload: auditPayload(msg),
			}}}, nil
		})
		if err != nil || captured == nil {
			return err
		}
		e.publishEvent(ctx, models.EventOrderStatusChanged, captured.OrderNumber, models.OrderStatusChangedEvent{
			OrderID:     captured.ID,
			OrderNumber: captured.OrderNumber,
			To:          models.OrderStatusPaid,
			Reason:      "payment captured",
		})
		e.sendIntent(ctx, clients.NotificationRequest{
			UserID:        captured.UserID,
			Type:          "PAYMENT_CONFIRMED",
			Channel:       "EMAIL",
			Priority:      "NORMAL",
			Subject:       "Payment received for " + captured.OrderNumber,
			Content:       fmt.Sprintf("We received your payment of %.2f %s.", msg.Amount, captured.Currency),
			ReferenceType: "ORDER",
			ReferenceID:   captured.OrderNumber,
		})
		return nil

	case "REFUNDED":
		return e.applyGuarded(ctx, msg.OrderID, "PAYMENT_REFUNDED", func(o *models.Order) (*database.Change, error) {
			if !o.Status.CanTransitionTo(models.OrderStatusRefunded) {
				// Refund confirmation for an order that was never paid:
				// audit it and move on.
				return &database.Change{Audits: []models.OrderAudit{{
					Action:  "REFUND_IGNORED",
					Payload: auditPayload(msg),
				}}}, nil
			}
			o.Status = models.OrderStatusRefunded
			return &database.Change{Order: o, Audits: []models.OrderAudit{{
				Action:  "PAYMENT_REFUNDED",
				Payload: auditPayload(msg),
			}}}, nil
		})

	case "FAILED":
		return e.applyGuarded(ctx, msg.OrderID, "PAYMENT_FAILED", func(o *models.Order) (*database.Change, error) {
			if !o.Status.CanTransitionTo(models.OrderStatusFailed) {
				e.logger.Info("Ignoring payment failure outside failable sequence",
					zap.Int64("order_id", o.ID), zap.String("status", string(o.Status)))
				return nil, nil
			}
			o.Status = models.OrderStatusFailed
			return &database.Change{Order: o, Audits: []models.OrderAudit{{
				Action:  "PAYMENT_FAILED",
				Payload: auditPayload(msg),
			}}}, nil
		})

	default:
		return errs.Newf(errs.KindValidation, "unknown payment status %q", msg.Status)
	}
}

// ApplyInventoryUpdate records reservation confirmations and releases.
// A confirmed reservation on a pending order confirms the order.
func (e *Engine) ApplyInventoryUpdate(ctx context.Context, msg models.InventoryUpdateMessage) error {
	switch msg.Action {
	case "RESERVE":
		return e.applyGuarded(ctx, msg.OrderID, "INVENTORY_RESERVED", func(o *models.Order) (*database.Change, error) {
			change := &database.Change{Audits: []models.OrderAudit{{
				Action:  "INVENTORY_RESERVED",
				Payload: auditPayload(msg),
			}}}
			if o.Status == models.OrderStatusPending {
				o.Status = models.OrderStatusConfirmed
				now := e.clk.Now().UTC()
				o.ConfirmedAt = &now
				change.Order = o
			}
			return change, nil
		})
	case "RELEASE":
		return e.applyGuarded(ctx, msg.OrderID, "INVENTORY_RELEASED", func(o *models.Order) (*database.Change, error) {
			return &database.Change{Audits: []models.OrderAudit{{
				Action:  "INVENTORY_RELEASED",
				Payload: auditPayload(msg),
			}}}, nil
		})
	default:
		return errs.Newf(errs.KindValidation, "unknown inventory action %q", msg.Action)
	}
}

// Carrier statuses that map one-to-one onto the order lifecycle. Anything
// else only updates the shipping row.
var shippingStatusMap = map[string]models.OrderStatus{
	"SHIPPED":          models.OrderStatusShipped,
	"OUT_FOR_DELIVERY": models.OrderStatusOutForDelivery,
	"DELIVERED":        models.OrderStatusDelivered,
}

// ApplyShippingUpdate persists the carrier state and advances the order
// when the mapping is unambiguous and permitted.
func (e *Engine) ApplyShippingUpdate(ctx context.Context, msg models.ShippingUpdateMessage) error {
	return e.applyGuarded(ctx, msg.OrderID, "SHIPPING_UPDATE", func(o *models.Order) (*database.Change, error) {
		change := &database.Change{
			Shipping: &models.OrderShipping{
				Status:         msg.Status,
				TrackingNumber: msg.TrackingNumber,
				Carrier:        msg.Carrier,
			},
			Audits: []models.OrderAudit{{
				Action:  "SHIPPING_UPDATE",
				Payload: auditPayload(msg),
			}},
		}

		target, ok := shippingStatusMap[msg.Status]
		if ok && o.Status != target && o.Status.CanTransitionTo(target) {
			o.Status = target
			stampTransition(o, target, e.clk.Now())
			change.Order = o
		}
		return change, nil
	})
}

// ForwardNotification relays an order-queue notification message to the
// notification engine.
func (e *Engine) ForwardNotification(ctx context.Context, intent models.NotificationIntent) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.Send(ctx, clients.NotificationRequest{
		UserID:           intent.UserID,
		Type:             intent.Type,
		Channel:          intent.Channel,
		Priority:         intent.Priority,
		Subject:          intent.Subject,
		Content:          intent.Content,
		RecipientAddress: intent.Recipient,
		TemplateID:       intent.TemplateID,
		TemplateVars:     intent.TemplateVars,
		ReferenceType:    intent.ReferenceType,
		ReferenceID:      intent.ReferenceID,
	})
}

func (e *Engine) applyGuarded(ctx context.Context, orderID int64, action string, fn func(*models.Order) (*database.Change, error)) error {
	if orderID <= 0 {
		return errs.Validation("orderId must be positive", map[string]string{"orderId": "required"})
	}
	_, err := e.repo.Mutate(ctx, orderID, fn)
	if err != nil {
		e.logger.Error("Inbound message handling failed",
			zap.String("action", action),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
	return err
}
