package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/correlation"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/providers"
)

// Sweep cadence and the per-sweep row cap.
const (
	DeliverInterval   = 30 * time.Second
	RetryInterval     = 120 * time.Second
	ReconcileInterval = 300 * time.Second
	SweepLimit        = 500
)

// Repository is the persistence surface the engine needs. Implemented by
// database.Repository; faked in tests.
type Repository interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id int64) (*models.Notification, error)
	Update(ctx context.Context, n *models.Notification) error
	ClaimDeliverable(ctx context.Context, now, claimUntil time.Time, limit int) ([]*models.Notification, error)
	ClaimRetryable(ctx context.Context, now, claimUntil time.Time, limit int) ([]*models.Notification, error)
	ListReconcilable(ctx context.Context, limit int) ([]*models.Notification, error)
	AppendDelivery(ctx context.Context, d *models.NotificationDelivery) error
	ListDeliveries(ctx context.Context, notificationID int64) ([]models.NotificationDelivery, error)
	LatestDelivery(ctx context.Context, notificationID int64) (*models.NotificationDelivery, error)
}

// Publisher matches bus.Publisher.Publish.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, payload any, priority int) error
}

// Engine owns notification intake, the delivery sweeps and engagement
// publishing.
type Engine struct {
	repo      Repository
	providers providers.Registry
	publisher Publisher
	clk       clock.Clock
	logger    *zap.Logger
}

func New(repo Repository, registry providers.Registry, publisher Publisher, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{
		repo:      repo,
		providers: registry,
		publisher: publisher,
		clk:       clk,
		logger:    logger,
	}
}

// Submit validates the draft, renders its template and persists it PENDING
// for the delivery sweep to pick up.
func (e *Engine) Submit(ctx context.Context, req models.SubmitRequest) (*models.Notification, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	n := &models.Notification{
		UserID:           req.UserID,
		Type:             strings.ToUpper(req.Type),
		Channel:          req.Channel,
		Status:           models.StatusPending,
		Priority:         req.Priority,
		Subject:          req.Subject,
		Content:          req.Content,
		HTMLContent:      req.HTMLContent,
		RecipientAddress: req.RecipientAddress,
		TemplateID:       req.TemplateID,
		TemplateVars:     req.TemplateVars,
		Metadata:         req.Metadata,
		ScheduledAt:      req.ScheduledAt,
		ExpiresAt:        req.ExpiresAt,
		MaxRetryAttempts: req.MaxRetryAttempts,
		CorrelationID:    correlation.FromContext(ctx),
		ReferenceType:    req.ReferenceType,
		ReferenceID:      req.ReferenceID,
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.MaxRetryAttempts <= 0 {
		n.MaxRetryAttempts = models.DefaultMaxRetryAttempts
	}
	if n.TemplateID != "" {
		n.Subject = renderTemplate(n.Subject, n.TemplateVars)
		n.Content = renderTemplate(n.Content, n.TemplateVars)
		n.HTMLContent = renderTemplate(n.HTMLContent, n.TemplateVars)
	}

	if err := e.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	e.logger.Info("Notification submitted",
		zap.Int64("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("priority", string(n.Priority)),
	)
	return n, nil
}

func validateSubmit(req models.SubmitRequest) error {
	if !req.Channel.Known() {
		return errs.Validation("unknown channel", map[string]string{"channel": string(req.Channel)})
	}
	if req.Priority != "" && !req.Priority.Known() {
		return errs.Validation("unknown priority", map[string]string{"priority": string(req.Priority)})
	}
	if req.Content == "" && req.TemplateID == "" {
		return errs.Validation("content or templateId required", map[string]string{"content": "required"})
	}
	if !providers.ValidRecipient(req.Channel, req.RecipientAddress) {
		return errs.Validation("recipient address invalid for channel",
			map[string]string{"recipientAddress": req.RecipientAddress})
	}
	if req.ScheduledAt != nil && req.ExpiresAt != nil && !req.ExpiresAt.After(*req.ScheduledAt) {
		return errs.Validation("expiresAt must be after scheduledAt",
			map[string]string{"expiresAt": "before scheduledAt"})
	}
	return nil
}

// renderTemplate substitutes {{var}} placeholders with their values.
// Unknown placeholders stay verbatim.
func renderTemplate(text string, vars map[string]any) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{{"+k+"}}", stringify(v))
	}
	return text
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Get returns a notification with its delivery history attached as
// metadata-free sibling data for the HTTP layer.
func (e *Engine) Get(ctx context.Context, id int64) (*models.Notification, []models.NotificationDelivery, error) {
	n, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := e.repo.ListDeliveries(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return n, deliveries, nil
}
