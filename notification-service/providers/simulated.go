package providers

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	// E.164 without separators.
	smsPattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// ValidRecipient checks the recipient address against the channel's format.
func ValidRecipient(channel models.Channel, address string) bool {
	switch channel {
	case models.ChannelEmail:
		return emailPattern.MatchString(address)
	case models.ChannelSMS:
		return smsPattern.MatchString(address)
	default:
		return address != ""
	}
}

// simulated is the shared body of the log-only drivers. Real gateways slot
// in behind the same interface.
type simulated struct {
	channel   models.Channel
	name      string
	perMinute int
	logger    *zap.Logger
}

func (s *simulated) SupportedChannel() models.Channel { return s.channel }

func (s *simulated) CanHandle(n *models.Notification) bool {
	return n.Channel == s.channel && ValidRecipient(s.channel, n.RecipientAddress)
}

func (s *simulated) Deliver(_ context.Context, n *models.Notification) DeliveryResult {
	start := time.Now()
	if !ValidRecipient(s.channel, n.RecipientAddress) {
		return DeliveryResult{
			Status: models.FailureInvalidRecipient,
			Reason: "recipient address failed channel validation",
		}
	}

	messageID := uuid.NewString()
	s.logger.Info("Notification delivered",
		zap.String("provider", s.name),
		zap.String("channel", string(s.channel)),
		zap.Int64("notification_id", n.ID),
		zap.String("provider_message_id", messageID),
	)
	return DeliveryResult{
		Success:           true,
		ProviderMessageID: messageID,
		ExternalID:        messageID,
		StatusCode:        200,
		LatencyMs:         time.Since(start).Milliseconds(),
	}
}

// CheckStatus always confirms: the simulated gateways deliver synchronously.
func (s *simulated) CheckStatus(_ context.Context, d *models.NotificationDelivery) DeliveryResult {
	return DeliveryResult{
		Success:           true,
		ProviderMessageID: d.ProviderMessageID,
		ExternalID:        d.ExternalID,
		StatusCode:        200,
	}
}

func (s *simulated) IsAvailable() bool { return true }
func (s *simulated) RateLimit() int    { return s.perMinute }

func NewEmail(logger *zap.Logger) DeliveryProvider {
	return &simulated{channel: models.ChannelEmail, name: "smtp-sim", perMinute: 600, logger: logger}
}

func NewSMS(logger *zap.Logger) DeliveryProvider {
	return &simulated{channel: models.ChannelSMS, name: "sms-sim", perMinute: 60, logger: logger}
}

func NewPush(logger *zap.Logger) DeliveryProvider {
	return &simulated{channel: models.ChannelPush, name: "push-sim", perMinute: 1200, logger: logger}
}

func NewInApp(logger *zap.Logger) DeliveryProvider {
	return &simulated{channel: models.ChannelInApp, name: "inapp-sim", perMinute: 6000, logger: logger}
}
