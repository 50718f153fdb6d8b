package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
)

const webhookTimeout = 15 * time.Second

// Webhook posts the notification as JSON to the recipient URL. The HTTP
// status classifies the failure for the retry policy.
type Webhook struct {
	client *http.Client
	logger *zap.Logger
}

func NewWebhook(logger *zap.Logger) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

func (w *Webhook) SupportedChannel() models.Channel { return models.ChannelWebhook }

func (w *Webhook) CanHandle(n *models.Notification) bool {
	return n.Channel == models.ChannelWebhook && n.RecipientAddress != ""
}

type webhookBody struct {
	NotificationID int64          `json:"notificationId"`
	Type           string         `json:"type"`
	Subject        string         `json:"subject,omitempty"`
	Content        string         `json:"content"`
	ReferenceType  string         `json:"referenceType,omitempty"`
	ReferenceID    string         `json:"referenceId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (w *Webhook) Deliver(ctx context.Context, n *models.Notification) DeliveryResult {
	start := time.Now()

	raw, err := json.Marshal(webhookBody{
		NotificationID: n.ID,
		Type:           n.Type,
		Subject:        n.Subject,
		Content:        n.Content,
		ReferenceType:  n.ReferenceType,
		ReferenceID:    n.ReferenceID,
		Metadata:       n.Metadata,
	})
	if err != nil {
		return DeliveryResult{Status: models.FailureFailed, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.RecipientAddress, bytes.NewReader(raw))
	if err != nil {
		return DeliveryResult{Status: models.FailureInvalidRecipient, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Id", strconv.FormatInt(n.ID, 10))

	resp, err := w.client.Do(req)
	if err != nil {
		status := models.FailureProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.FailureTimeout
		}
		return DeliveryResult{Status: status, Reason: err.Error()}
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		messageID := uuid.NewString()
		w.logger.Info("Webhook delivered",
			zap.Int64("notification_id", n.ID),
			zap.Int("status_code", resp.StatusCode),
		)
		return DeliveryResult{
			Success:           true,
			ProviderMessageID: messageID,
			ExternalID:        messageID,
			StatusCode:        resp.StatusCode,
			LatencyMs:         latency,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return DeliveryResult{Status: models.FailureRateLimited, StatusCode: resp.StatusCode,
			Reason: "endpoint rate limited", Code: strconv.Itoa(resp.StatusCode)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return DeliveryResult{Status: models.FailureRejected, StatusCode: resp.StatusCode,
			Reason: "endpoint rejected the payload", Code: strconv.Itoa(resp.StatusCode)}
	default:
		return DeliveryResult{Status: models.FailureProviderError, StatusCode: resp.StatusCode,
			Reason: "endpoint returned a server error", Code: strconv.Itoa(resp.StatusCode)}
	}
}

// CheckStatus has nothing to ask: a 2xx response already confirmed receipt.
func (w *Webhook) CheckStatus(_ context.Context, d *models.NotificationDelivery) DeliveryResult {
	return DeliveryResult{
		Success:           true,
		ProviderMessageID: d.ProviderMessageID,
		ExternalID:        d.ExternalID,
		StatusCode:        d.StatusCode,
	}
}

func (w *Webhook) IsAvailable() bool { return true }
func (w *Webhook) RateLimit() int    { return 300 }
