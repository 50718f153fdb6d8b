package models

import (
	"time"
)

type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
	ChannelPush    Channel = "PUSH"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelInApp   Channel = "IN_APP"
)

func (c Channel) Known() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelInApp:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
	StatusRetry     Status = "RETRY"
)

// Terminal reports whether the notification will never be attempted again.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusRead || s == StatusFailed
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Known() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Weight orders priorities for queue sweeps, higher first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	default:
		return 1
	}
}

const DefaultMaxRetryAttempts = 3

type Notification struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"userId"`
	Type             string         `json:"type"`
	Channel          Channel        `json:"channel"`
	Status           Status         `json:"status"`
	Priority         Priority       `json:"priority"`
	Subject          string         `json:"subject,omitempty"`
	Content          string         `json:"content"`
	HTMLContent      string         `json:"htmlContent,omitempty"`
	RecipientAddress string         `json:"recipientAddress"`
	TemplateID       string         `json:"templateId,omitempty"`
	TemplateVars     map[string]any `json:"templateVariables,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`

	RetryCount       int        `json:"retryCount"`
	MaxRetryAttempts int        `json:"maxRetryAttempts"`
	NextRetryAt      *time.Time `json:"nextRetryAt,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`

	ExternalID    string `json:"externalId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	ReferenceType string `json:"referenceType,omitempty"`
	ReferenceID   string `json:"referenceId,omitempty"`

	ClaimUntil *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Expired reports whether the notification passed its expiry cutoff.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// ReadyForDelivery holds when the notification is due, not expired and in a
// deliverable status.
func (n *Notification) ReadyForDelivery(now time.Time) bool {
	if n.Status != StatusPending && n.Status != StatusRetry {
		return false
	}
	if n.Expired(now) {
		return false
	}
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// CanRetry holds when another attempt is allowed at all; the per-failure
// policy caps further.
func (n *Notification) CanRetry(now time.Time) bool {
	if n.RetryCount >= n.MaxRetryAttempts {
		return false
	}
	if n.Status != StatusRetry && n.Status != StatusFailed {
		return false
	}
	return !n.Expired(now)
}

// Failure statuses a provider can report for an attempt.
const (
	FailureFailed           = "FAILED"
	FailureBounced          = "BOUNCED"
	FailureRejected         = "REJECTED"
	FailureTimeout          = "TIMEOUT"
	FailureRateLimited      = "RATE_LIMITED"
	FailureProviderError    = "PROVIDER_ERROR"
	FailureInvalidRecipient = "INVALID_RECIPIENT"
	FailureCancelled        = "CANCELLED"
	FailureExpired          = "EXPIRED"
)

// RetryRule is the backoff applied after a failed attempt.
type RetryRule struct {
	Delay      time.Duration
	MaxRetries int
}

var retryPolicy = map[string]RetryRule{
	FailureFailed:        {Delay: 60 * time.Second, MaxRetries: 3},
	FailureBounced:       {Delay: 300 * time.Second, MaxRetries: 2},
	FailureRejected:      {Delay: 600 * time.Second, MaxRetries: 1},
	FailureTimeout:       {Delay: 120 * time.Second, MaxRetries: 3},
	FailureRateLimited:   {Delay: 180 * time.Second, MaxRetries: 5},
	FailureProviderError: {Delay: 240 * time.Second, MaxRetries: 2},
}

// RetryRuleFor returns the backoff for a failure status. ok is false for
// terminal failures (invalid recipient, cancelled, expired).
func RetryRuleFor(failureStatus string) (RetryRule, bool) {
	rule, ok := retryPolicy[failureStatus]
	return rule, ok
}

// Delivery attempt outcomes.
const (
	DeliverySuccess = "SUCCESS"
	DeliveryFailed  = "FAILED"
)

// NotificationDelivery is one provider attempt, appended per try.
type NotificationDelivery struct {
	ID                int64     `json:"id"`
	NotificationID    int64     `json:"notificationId"`
	Attempt           int       `json:"attempt"`
	Channel           Channel   `json:"channel"`
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ExternalID        string    `json:"externalId,omitempty"`
	StatusCode        int       `json:"statusCode,omitempty"`
	LatencyMs         int64     `json:"latencyMs,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	AttemptedAt       time.Time `json:"attemptedAt"`
}

// SubmitRequest is the POST /notifications body.
type SubmitRequest struct {
	UserID           int64          `json:"userId" binding:"required"`
	Type             string         `json:"type" binding:"required"`
	Channel          Channel        `json:"channel" binding:"required"`
	Priority         Priority       `json:"priority"`
	Subject          string         `json:"subject"`
	Content          string         `json:"content"`
	HTMLContent      string         `json:"htmlContent"`
	RecipientAddress string         `json:"recipientAddress" binding:"required"`
	TemplateID       string         `json:"templateId"`
	TemplateVars     map[string]any `json:"templateVariables"`
	Metadata         map[string]any `json:"metadata"`
	ScheduledAt      *time.Time     `json:"scheduledAt"`
	ExpiresAt        *time.Time     `json:"expiresAt"`
	MaxRetryAttempts int            `json:"maxRetryAttempts"`
	ReferenceType    string         `json:"referenceType"`
	ReferenceID      string         `json:"referenceId"`
}

// Engagement vocabulary and the exchange priority each type publishes at.
const (
	EngagementOpen        = "OPEN"
	EngagementClick       = "CLICK"
	EngagementDismiss     = "DISMISS"
	EngagementUnsubscribe = "UNSUBSCRIBE"
	EngagementSpamReport  = "SPAM_REPORT"
)

type engagementClass struct {
	RoutingType string
	Priority    int
}

var engagementClasses = map[string]engagementClass{
	EngagementOpen:        {RoutingType: "opened", Priority: 5},
	EngagementClick:       {RoutingType: "clicked", Priority: 5},
	EngagementDismiss:     {RoutingType: "dismissed", Priority: 2},
	EngagementUnsubscribe: {RoutingType: "unsubscribed", Priority: 8},
	EngagementSpamReport:  {RoutingType: "spam_reported", Priority: 8},
}

// EngagementClass resolves the routing type and publish priority for an
// engagement type; ok is false for unknown types.
func EngagementClass(engagementType string) (routingType string, priority int, ok bool) {
	c, found := engagementClasses[engagementType]
	return c.RoutingType, c.Priority, found
}

// EngagementRequest is the POST /notifications/:id/engagement body.
type EngagementRequest struct {
	Type     string         `json:"type" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// EngagementEvent is published on the engagement exchange.
type EngagementEvent struct {
	NotificationID int64          `json:"notificationId"`
	UserID         int64          `json:"userId"`
	Type           string         `json:"type"`
	Channel        Channel        `json:"channel"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
