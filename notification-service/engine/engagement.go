package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/bus"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
)

// RecordEngagement publishes an engagement event for the notification on
// the engagement exchange. An open on a delivered notification also marks
// it READ.
func (e *Engine) RecordEngagement(ctx context.Context, notificationID int64, req models.EngagementRequest) (*models.EngagementEvent, error) {
	routingType, priority, ok := models.EngagementClass(req.Type)
	if !ok {
		return nil, errs.Validation("unknown engagement type",
			map[string]string{"type": req.Type})
	}

	n, err := e.repo.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	event := models.EngagementEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           req.Type,
		Channel:        n.Channel,
		OccurredAt:     e.clk.Now().UTC(),
		Metadata:       req.Metadata,
	}

	if err := e.publisher.Publish(ctx, bus.ExchangeEngagementEvents,
		bus.EngagementRoutingKey(routingType), req.Type, event, priority); err != nil {
		return nil, err
	}

	if req.Type == models.EngagementOpen && n.Status == models.StatusDelivered {
		n.Status = models.StatusRead
		e.update(ctx, n)
	}

	e.logger.Info("Engagement recorded",
		zap.Int64("notification_id", n.ID),
		zap.String("type", req.Type),
		zap.String("routing_key", bus.EngagementRoutingKey(routingType)),
	)
	return &event, nil
}
