package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		// Forward flow, strict and jumped.
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusConfirmed, OrderStatusCompleted, true},
		{OrderStatusPaid, OrderStatusConfirmed, false},
		{OrderStatusDelivered, OrderStatusShipped, false},

		// Cancellation gate.
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusRefunded, OrderStatusCancelled, false},

		// Hold.
		{OrderStatusProcessing, OrderStatusOnHold, true},
		{OrderStatusOnHold, OrderStatusProcessing, true},
		{OrderStatusOnHold, OrderStatusCancelled, true},

		// Failure only up to processing.
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusProcessing, OrderStatusFailed, true},
		{OrderStatusPreparing, OrderStatusFailed, false},
		{OrderStatusDelivered, OrderStatusFailed, false},

		// Returns.
		{OrderStatusDelivered, OrderStatusReturning, true},
		{OrderStatusCompleted, OrderStatusReturning, true},
		{OrderStatusReturning, OrderStatusReturned, true},
		{OrderStatusShipped, OrderStatusReturning, false},
		{OrderStatusDelivered, OrderStatusReturned, false},

		// Refunds.
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusProcessing, OrderStatusRefunded, true},
		{OrderStatusCancelled, OrderStatusRefunded, true},
		{OrderStatusReturned, OrderStatusRefunded, true},
		{OrderStatusPending, OrderStatusRefunded, false},
		{OrderStatusDelivered, OrderStatusRefunded, false},

		// Same-state is idempotent.
		{OrderStatusProcessing, OrderStatusProcessing, true},
		{OrderStatusCancelled, OrderStatusCancelled, true},

		// Partial flows.
		{OrderStatusPreparing, OrderStatusPartiallyShipped, true},
		{OrderStatusPartiallyShipped, OrderStatusShipped, true},
		{OrderStatusPartiallyShipped, OrderStatusPartiallyDelivered, true},
		{OrderStatusPartiallyDelivered, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusPartiallyShipped, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestCanTransitionTo_UnknownStatus(t *testing.T) {
	assert.False(t, OrderStatusPending.CanTransitionTo("BOGUS"))
	assert.False(t, OrderStatus("BOGUS").CanTransitionTo(OrderStatusPending))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, OrderStatusCompleted.IsFinal())
	assert.True(t, OrderStatusReturned.IsFinal())
	assert.False(t, OrderStatusDelivered.IsFinal())

	assert.True(t, OrderStatusPending.IsActive())
	assert.True(t, OrderStatusCompleted.IsActive())
	assert.False(t, OrderStatusCancelled.IsActive())
	assert.False(t, OrderStatusOnHold.IsActive())

	assert.True(t, OrderStatusFailed.IsProblem())
	assert.True(t, OrderStatusOnHold.IsProblem())
	assert.False(t, OrderStatusProcessing.IsProblem())
}
