package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/providers"
)

// ProcessDeliveryQueue claims due PENDING|RETRY notifications (priority
// first, then age) and attempts each one. The claim lease keeps a second
// sweep from double-sending while this one is in flight.
func (e *Engine) ProcessDeliveryQueue(ctx context.Context) error {
	now := e.clk.Now().UTC()
	batch, err := e.repo.ClaimDeliverable(ctx, now, now.Add(DeliverInterval), SweepLimit)
	if err != nil {
		return err
	}
	for _, n := range batch {
		e.deliver(ctx, n)
	}
	if len(batch) > 0 {
		e.logger.Info("Delivery sweep finished", zap.Int("count", len(batch)))
	}
	return nil
}

// ProcessRetryQueue re-submits notifications whose backoff has elapsed.
func (e *Engine) ProcessRetryQueue(ctx context.Context) error {
	now := e.clk.Now().UTC()
	batch, err := e.repo.ClaimRetryable(ctx, now, now.Add(RetryInterval), SweepLimit)
	if err != nil {
		return err
	}
	for _, n := range batch {
		e.deliver(ctx, n)
	}
	if len(batch) > 0 {
		e.logger.Info("Retry sweep finished", zap.Int("count", len(batch)))
	}
	return nil
}

// deliver runs one provider attempt and applies the per-failure retry
// policy. Every attempt appends a delivery row.
func (e *Engine) deliver(ctx context.Context, n *models.Notification) {
	now := e.clk.Now().UTC()

	// The claim query excludes expired rows, but expiry can land between
	// claim and attempt.
	if n.Expired(now) {
		n.Status = models.StatusFailed
		n.ErrorMessage = "notification expired before delivery"
		n.ClaimUntil = nil
		e.update(ctx, n)
		middleware.RecordNotificationSent(string(n.Channel), "expired")
		return
	}

	provider, ok := e.providers.For(n.Channel)
	if !ok {
		n.Status = models.StatusFailed
		n.ErrorMessage = "no provider registered for channel"
		n.ClaimUntil = nil
		e.update(ctx, n)
		return
	}

	var result = e.attempt(ctx, provider, n)

	attempt := models.NotificationDelivery{
		NotificationID:    n.ID,
		Attempt:           n.RetryCount + 1,
		Channel:           n.Channel,
		Provider:          providerLabel(n.Channel),
		ProviderMessageID: result.ProviderMessageID,
		ExternalID:        result.ExternalID,
		StatusCode:        result.StatusCode,
		LatencyMs:         result.LatencyMs,
		AttemptedAt:       now,
	}

	if result.Success {
		attempt.Status = models.DeliverySuccess
		if err := e.repo.AppendDelivery(ctx, &attempt); err != nil {
			e.logger.Error("Failed to append delivery row", zap.Error(err))
		}

		n.Status = models.StatusSent
		n.SentAt = &now
		n.ExternalID = result.ExternalID
		n.ErrorMessage = ""
		n.NextRetryAt = nil
		n.ClaimUntil = nil
		e.update(ctx, n)
		middleware.RecordNotificationSent(string(n.Channel), "sent")
		return
	}

	attempt.Status = models.DeliveryFailed
	attempt.Reason = result.Reason
	if err := e.repo.AppendDelivery(ctx, &attempt); err != nil {
		e.logger.Error("Failed to append delivery row", zap.Error(err))
	}

	rule, retryable := models.RetryRuleFor(result.Status)
	if retryable && n.RetryCount < n.MaxRetryAttempts && n.RetryCount < rule.MaxRetries {
		n.RetryCount++
		n.Status = models.StatusRetry
		next := now.Add(rule.Delay)
		n.NextRetryAt = &next
		n.ErrorMessage = result.Reason
		n.ClaimUntil = nil
		e.update(ctx, n)
		middleware.RecordNotificationSent(string(n.Channel), "retry")

		e.logger.Warn("Delivery failed, retry scheduled",
			zap.Int64("notification_id", n.ID),
			zap.String("failure", result.Status),
			zap.Int("retry_count", n.RetryCount),
			zap.Time("next_retry_at", next),
		)
		return
	}

	n.Status = models.StatusFailed
	n.ErrorMessage = result.Reason
	n.NextRetryAt = nil
	n.ClaimUntil = nil
	e.update(ctx, n)
	middleware.RecordNotificationSent(string(n.Channel), "failed")

	e.logger.Error("Delivery failed terminally",
		zap.Int64("notification_id", n.ID),
		zap.String("failure", result.Status),
		zap.String("reason", result.Reason),
	)
}

func (e *Engine) attempt(ctx context.Context, p providers.DeliveryProvider, n *models.Notification) providers.DeliveryResult {
	if !p.IsAvailable() {
		return providers.DeliveryResult{Status: models.FailureProviderError, Reason: "provider unavailable"}
	}
	if !p.CanHandle(n) {
		return providers.DeliveryResult{Status: models.FailureInvalidRecipient, Reason: "provider cannot handle notification"}
	}
	return p.Deliver(ctx, n)
}

// CheckDeliveryStatuses reconciles SENT notifications against the provider.
// Confirmation moves them to DELIVERED; a mid-flight expiry does not undo a
// completed delivery.
func (e *Engine) CheckDeliveryStatuses(ctx context.Context) error {
	batch, err := e.repo.ListReconcilable(ctx, SweepLimit)
	if err != nil {
		return err
	}

	for _, n := range batch {
		provider, ok := e.providers.For(n.Channel)
		if !ok {
			continue
		}
		last, err := e.repo.LatestDelivery(ctx, n.ID)
		if err != nil || last == nil || last.ProviderMessageID == "" {
			continue
		}

		result := provider.CheckStatus(ctx, last)
		now := e.clk.Now().UTC()
		switch {
		case result.Success:
			n.Status = models.StatusDelivered
			n.DeliveredAt = &now
			e.update(ctx, n)
			middleware.RecordNotificationSent(string(n.Channel), "delivered")
		case result.Status == models.FailureFailed || result.Status == models.FailureBounced:
			n.Status = models.StatusFailed
			n.ErrorMessage = result.Reason
			e.update(ctx, n)
			middleware.RecordNotificationSent(string(n.Channel), "failed")
		}
	}
	return nil
}

func (e *Engine) update(ctx context.Context, n *models.Notification) {
	if err := e.repo.Update(ctx, n); err != nil {
		e.logger.Error("Failed to update notification",
			zap.Int64("notification_id", n.ID), zap.Error(err))
	}
}

func providerLabel(c models.Channel) string {
	return strings.ToLower(string(c))
}
