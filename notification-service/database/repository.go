package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
)

const notificationColumns = `id, user_id, type, channel, status, priority,
		subject, content, html_content, recipient_address, template_id,
		template_vars, metadata, scheduled_at, sent_at, delivered_at,
		expires_at, retry_count, max_retry_attempts, next_retry_at,
		error_message, external_id, correlation_id, reference_type,
		reference_id, claim_until, created_at, updated_at`

// Repository persists notifications and their delivery attempts. Sweep
// selection and lease claiming happen in one statement so two workers never
// pick up the same row.
type Repository struct {
	db  *sql.DB
	clk clock.Clock
}

func NewRepository(db *sql.DB, clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.System()
	}
	return &Repository{db: db, clk: clk}
}

func (r *Repository) Create(ctx context.Context, n *models.Notification) error {
	now := r.clk.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, channel, status, priority,
			subject, content, html_content, recipient_address, template_id,
			template_vars, metadata, scheduled_at, expires_at,
			retry_count, max_retry_attempts, correlation_id,
			reference_type, reference_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`,
		n.UserID, n.Type, n.Channel, n.Status, n.Priority,
		nullString(n.Subject), n.Content, nullString(n.HTMLContent),
		n.RecipientAddress, nullString(n.TemplateID),
		jsonColumn(n.TemplateVars), jsonColumn(n.Metadata),
		n.ScheduledAt, n.ExpiresAt,
		n.RetryCount, n.MaxRetryAttempts, nullString(n.CorrelationID),
		nullString(n.ReferenceType), nullString(n.ReferenceID),
		n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "insert notification", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id)
	return scanNotification(rowScanner{row})
}

// Update writes back every mutable field. Callers hold the row via a claim
// or operate on freshly submitted rows.
func (r *Repository) Update(ctx context.Context, n *models.Notification) error {
	n.UpdatedAt = r.clk.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = $1, sent_at = $2, delivered_at = $3,
			retry_count = $4, next_retry_at = $5, error_message = $6,
			external_id = $7, claim_until = $8, updated_at = $9
		WHERE id = $10`,
		n.Status, n.SentAt, n.DeliveredAt,
		n.RetryCount, n.NextRetryAt, nullString(n.ErrorMessage),
		nullString(n.ExternalID), n.ClaimUntil, n.UpdatedAt,
		n.ID,
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "update notification", err)
	}
	return nil
}

// ClaimDeliverable selects due PENDING|RETRY rows by priority then age,
// stamps claim_until and returns them. SKIP LOCKED keeps concurrent sweeps
// from double-claiming.
func (r *Repository) ClaimDeliverable(ctx context.Context, now, claimUntil time.Time, limit int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notifications SET claim_until = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status IN ('PENDING', 'RETRY')
				AND (scheduled_at IS NULL OR scheduled_at <= $2)
				AND (expires_at IS NULL OR expires_at > $2)
				AND (claim_until IS NULL OR claim_until <= $2)
			ORDER BY CASE priority
					WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3
					WHEN 'NORMAL' THEN 2 ELSE 1 END DESC,
				COALESCE(scheduled_at, created_at) ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		claimUntil, now, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "claim deliverable notifications", err)
	}
	return collectNotifications(rows)
}

// ClaimRetryable claims rows whose backoff has elapsed.
func (r *Repository) ClaimRetryable(ctx context.Context, now, claimUntil time.Time, limit int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notifications SET claim_until = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'RETRY'
				AND next_retry_at IS NOT NULL AND next_retry_at <= $2
				AND retry_count < max_retry_attempts
				AND (expires_at IS NULL OR expires_at > $2)
				AND (claim_until IS NULL OR claim_until <= $2)
			ORDER BY next_retry_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		claimUntil, now, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "claim retryable notifications", err)
	}
	return collectNotifications(rows)
}

// ListReconcilable returns sent notifications whose latest delivery carries
// a provider message id, for status reconciliation.
func (r *Repository) ListReconcilable(ctx context.Context, limit int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications n
		WHERE n.status = 'SENT'
			AND EXISTS (
				SELECT 1 FROM notification_deliveries d
				WHERE d.notification_id = n.id AND d.provider_message_id IS NOT NULL
			)
		ORDER BY n.sent_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "list reconcilable notifications", err)
	}
	return collectNotifications(rows)
}

func (r *Repository) AppendDelivery(ctx context.Context, d *models.NotificationDelivery) error {
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = r.clk.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_deliveries (notification_id, attempt, channel,
			provider, status, provider_message_id, external_id, status_code,
			latency_ms, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		d.NotificationID, d.Attempt, d.Channel,
		d.Provider, d.Status, nullString(d.ProviderMessageID),
		nullString(d.ExternalID), d.StatusCode,
		d.LatencyMs, nullString(d.Reason), d.AttemptedAt,
	).Scan(&d.ID)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "insert delivery attempt", err)
	}
	return nil
}

// ListDeliveries returns the attempt history, oldest first.
func (r *Repository) ListDeliveries(ctx context.Context, notificationID int64) ([]models.NotificationDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, notification_id, attempt, channel, provider, status,
			provider_message_id, external_id, status_code, latency_ms,
			reason, attempted_at
		FROM notification_deliveries WHERE notification_id = $1 ORDER BY id`, notificationID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "load delivery attempts", err)
	}
	defer rows.Close()

	var out []models.NotificationDelivery
	for rows.Next() {
		var d models.NotificationDelivery
		var providerMsgID, externalID, reason sql.NullString
		var statusCode sql.NullInt64
		var latency sql.NullInt64
		if err := rows.Scan(&d.ID, &d.NotificationID, &d.Attempt, &d.Channel,
			&d.Provider, &d.Status, &providerMsgID, &externalID,
			&statusCode, &latency, &reason, &d.AttemptedAt); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "scan delivery attempt", err)
		}
		d.ProviderMessageID = providerMsgID.String
		d.ExternalID = externalID.String
		d.StatusCode = int(statusCode.Int64)
		d.LatencyMs = latency.Int64
		d.Reason = reason.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestDelivery returns the most recent attempt, or nil without error when
// there is none.
func (r *Repository) LatestDelivery(ctx context.Context, notificationID int64) (*models.NotificationDelivery, error) {
	all, err := r.ListDeliveries(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}

type scanner interface {
	Scan(dest ...any) error
}

type rowScanner struct{ *sql.Row }

func collectNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	defer rows.Close()
	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(s scanner) (*models.Notification, error) {
	var n models.Notification
	var subject, htmlContent, templateID, templateVars, metadata sql.NullString
	var errorMessage, externalID, correlationID, refType, refID sql.NullString
	err := s.Scan(&n.ID, &n.UserID, &n.Type, &n.Channel, &n.Status, &n.Priority,
		&subject, &n.Content, &htmlContent, &n.RecipientAddress, &templateID,
		&templateVars, &metadata, &n.ScheduledAt, &n.SentAt, &n.DeliveredAt,
		&n.ExpiresAt, &n.RetryCount, &n.MaxRetryAttempts, &n.NextRetryAt,
		&errorMessage, &externalID, &correlationID, &refType,
		&refID, &n.ClaimUntil, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "notification not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "scan notification", err)
	}
	n.Subject = subject.String
	n.HTMLContent = htmlContent.String
	n.TemplateID = templateID.String
	n.ErrorMessage = errorMessage.String
	n.ExternalID = externalID.String
	n.CorrelationID = correlationID.String
	n.ReferenceType = refType.String
	n.ReferenceID = refID.String
	if templateVars.Valid {
		_ = json.Unmarshal([]byte(templateVars.String), &n.TemplateVars)
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &n.Metadata)
	}
	return &n, nil
}

func jsonColumn(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(raw)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
