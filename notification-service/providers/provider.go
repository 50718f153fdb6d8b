package providers

import (
	"context"

	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
)

// DeliveryResult is a single provider attempt outcome. Success carries the
// provider ids; failure carries a retry-policy status and reason.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	ExternalID        string
	StatusCode        int
	LatencyMs         int64

	// Failure fields.
	Status string
	Reason string
	Code   string
}

// DeliveryProvider is one delivery channel driver. Implementations never
// return transport errors: anything that goes wrong maps onto a failure
// DeliveryResult so the retry policy can classify it.
type DeliveryProvider interface {
	SupportedChannel() models.Channel
	CanHandle(n *models.Notification) bool
	Deliver(ctx context.Context, n *models.Notification) DeliveryResult
	CheckStatus(ctx context.Context, d *models.NotificationDelivery) DeliveryResult
	IsAvailable() bool
	RateLimit() int
}

// Registry maps channels to their drivers.
type Registry map[models.Channel]DeliveryProvider

func NewRegistry(ps ...DeliveryProvider) Registry {
	r := make(Registry, len(ps))
	for _, p := range ps {
		r[p.SupportedChannel()] = p
	}
	return r
}

func (r Registry) For(channel models.Channel) (DeliveryProvider, bool) {
	p, ok := r[channel]
	return p, ok
}
