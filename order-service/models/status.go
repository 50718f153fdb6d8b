package models

// OrderStatus is the order lifecycle state. Forward-flow statuses carry a
// positive sequence 1..10; side branches carry sequence <= 0.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "PENDING"
	OrderStatusConfirmed          OrderStatus = "CONFIRMED"
	OrderStatusPaymentAuthorized  OrderStatus = "PAYMENT_AUTHORIZED"
	OrderStatusPaid               OrderStatus = "PAID"
	OrderStatusProcessing         OrderStatus = "PROCESSING"
	OrderStatusPreparing          OrderStatus = "PREPARING"
	OrderStatusPartiallyShipped   OrderStatus = "PARTIALLY_SHIPPED"
	OrderStatusShipped            OrderStatus = "SHIPPED"
	OrderStatusOutForDelivery     OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusPartiallyDelivered OrderStatus = "PARTIALLY_DELIVERED"
	OrderStatusDelivered          OrderStatus = "DELIVERED"
	OrderStatusCompleted          OrderStatus = "COMPLETED"
	OrderStatusOnHold             OrderStatus = "ON_HOLD"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
	OrderStatusRefunded           OrderStatus = "REFUNDED"
	OrderStatusFailed             OrderStatus = "FAILED"
	OrderStatusReturning          OrderStatus = "RETURNING"
	OrderStatusReturned           OrderStatus = "RETURNED"
)

var statusSequence = map[OrderStatus]int{
	OrderStatusPending:           1,
	OrderStatusConfirmed:         2,
	OrderStatusPaymentAuthorized: 3,
	OrderStatusPaid:              4,
	OrderStatusProcessing:        5,
	OrderStatusPreparing:         6,
	OrderStatusShipped:           7,
	OrderStatusOutForDelivery:    8,
	OrderStatusDelivered:         9,
	OrderStatusCompleted:         10,

	OrderStatusOnHold:             0,
	OrderStatusPartiallyShipped:   0,
	OrderStatusPartiallyDelivered: 0,
	OrderStatusFailed:             -1,
	OrderStatusCancelled:          -2,
	OrderStatusRefunded:           -3,
	OrderStatusReturning:          -4,
	OrderStatusReturned:           -5,
}

var finalStatuses = map[OrderStatus]bool{
	OrderStatusCompleted: true,
	OrderStatusCancelled: true,
	OrderStatusRefunded:  true,
	OrderStatusFailed:    true,
	OrderStatusReturned:  true,
}

// Known reports whether s is a member of the status set.
func (s OrderStatus) Known() bool {
	_, ok := statusSequence[s]
	return ok
}

// Sequence returns the forward-flow position, or <= 0 for side branches.
func (s OrderStatus) Sequence() int {
	return statusSequence[s]
}

func (s OrderStatus) IsFinal() bool {
	return finalStatuses[s]
}

// IsActive reports whether the order is still moving through the forward
// flow.
func (s OrderStatus) IsActive() bool {
	seq := s.Sequence()
	return seq >= 1 && seq <= 10
}

func (s OrderStatus) IsProblem() bool {
	return s.Sequence() < 0 || s == OrderStatusOnHold
}

// CanBeCancelled gates cancellation: never from a final state and never
// once the order was delivered.
func (s OrderStatus) CanBeCancelled() bool {
	return s.Known() && !s.IsFinal() && s != OrderStatusDelivered
}

// CanTransitionTo implements the lifecycle graph. Forward movement accepts
// any monotonic jump within sequence 1..10, not just +1. A same-state
// transition is always permitted and audited as a no-op.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if !s.Known() || !target.Known() {
		return false
	}
	if s == target {
		return true
	}

	switch target {
	case OrderStatusCancelled, OrderStatusOnHold:
		return s.CanBeCancelled()
	case OrderStatusFailed:
		return !s.IsFinal() && s.Sequence() <= OrderStatusProcessing.Sequence()
	case OrderStatusReturning:
		return s == OrderStatusDelivered || s == OrderStatusCompleted
	case OrderStatusReturned:
		return s == OrderStatusReturning
	case OrderStatusRefunded:
		switch s {
		case OrderStatusPaid, OrderStatusProcessing, OrderStatusPreparing,
			OrderStatusCancelled, OrderStatusReturned:
			return true
		}
		return false
	case OrderStatusPartiallyShipped:
		return s == OrderStatusProcessing || s == OrderStatusPreparing
	case OrderStatusPartiallyDelivered:
		return s == OrderStatusPartiallyShipped || s == OrderStatusShipped ||
			s == OrderStatusOutForDelivery
	}

	// Resuming from a side branch rejoins the forward flow.
	switch s {
	case OrderStatusOnHold:
		return target.IsActive()
	case OrderStatusPartiallyShipped:
		return target == OrderStatusShipped || target == OrderStatusOutForDelivery ||
			target == OrderStatusDelivered
	case OrderStatusPartiallyDelivered:
		return target == OrderStatusDelivered || target == OrderStatusCompleted
	}

	return s.Sequence() >= 1 && target.Sequence() > s.Sequence() && target.Sequence() <= 10
}
