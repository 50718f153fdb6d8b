package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/providers"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

type memRepo struct {
	nextID        int64
	notifications map[int64]*models.Notification
	deliveries    map[int64][]models.NotificationDelivery
}

func newMemRepo() *memRepo {
	return &memRepo{
		notifications: make(map[int64]*models.Notification),
		deliveries:    make(map[int64][]models.NotificationDelivery),
	}
}

func (r *memRepo) Create(_ context.Context, n *models.Notification) error {
	r.nextID++
	n.ID = r.nextID
	cp := *n
	r.notifications[n.ID] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id int64) (*models.Notification, error) {
	n, ok := r.notifications[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "notification not found")
	}
	cp := *n
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, n *models.Notification) error {
	cp := *n
	r.notifications[n.ID] = &cp
	return nil
}

func (r *memRepo) ClaimDeliverable(context.Context, time.Time, time.Time, int) ([]*models.Notification, error) {
	return nil, nil
}

func (r *memRepo) ClaimRetryable(context.Context, time.Time, time.Time, int) ([]*models.Notification, error) {
	return nil, nil
}

func (r *memRepo) ListReconcilable(context.Context, int) ([]*models.Notification, error) {
	return nil, nil
}

func (r *memRepo) AppendDelivery(_ context.Context, d *models.NotificationDelivery) error {
	r.deliveries[d.NotificationID] = append(r.deliveries[d.NotificationID], *d)
	return nil
}

func (r *memRepo) ListDeliveries(_ context.Context, id int64) ([]models.NotificationDelivery, error) {
	return r.deliveries[id], nil
}

func (r *memRepo) LatestDelivery(_ context.Context, id int64) (*models.NotificationDelivery, error) {
	all := r.deliveries[id]
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, string, any, int) error { return nil }

func newTestServer(t *testing.T) (*gin.Engine, *memRepo) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	repo := newMemRepo()
	registry := providers.NewRegistry(providers.NewEmail(logger), providers.NewSMS(logger))
	eng := engine.New(repo, registry, noopPublisher{}, nil, logger)

	r := gin.New()
	NewNotificationHandler(eng, logger).Register(r)
	return r, repo
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/notifications", models.SubmitRequest{
		UserID:           42,
		Type:             "ORDER_PLACED",
		Channel:          models.ChannelEmail,
		Content:          "Your order is on its way.",
		RecipientAddress: "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.BizCreated, envelope.Code)

	data := envelope.Data.(map[string]any)
	assert.Equal(t, string(models.StatusPending), data["status"])
	assert.Equal(t, string(models.PriorityNormal), data["priority"])
}

func TestSubmitEndpoint_InvalidRecipient(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/notifications", models.SubmitRequest{
		UserID:           42,
		Type:             "ORDER_PLACED",
		Channel:          models.ChannelSMS,
		Content:          "hi",
		RecipientAddress: "not-a-number",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeValidationError, envelope.Code)
}

func TestGetEndpoint(t *testing.T) {
	r, repo := newTestServer(t)
	repo.Create(context.Background(), &models.Notification{
		UserID: 42, Channel: models.ChannelEmail, Status: models.StatusSent,
		Content: "hello", RecipientAddress: "alice@example.com",
	})
	repo.AppendDelivery(context.Background(), &models.NotificationDelivery{
		NotificationID: 1, Attempt: 1, Status: models.DeliverySuccess, ProviderMessageID: "msg-1",
	})

	w := doJSON(r, http.MethodGet, "/notifications/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]any)
	require.Contains(t, data, "notification")
	deliveries := data["deliveries"].([]any)
	require.Len(t, deliveries, 1)
}

func TestGetEndpoint_NotFound(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/notifications/99", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEngagementEndpoint(t *testing.T) {
	r, repo := newTestServer(t)
	repo.Create(context.Background(), &models.Notification{
		UserID: 42, Channel: models.ChannelEmail, Status: models.StatusDelivered,
		Content: "hello", RecipientAddress: "alice@example.com",
	})

	w := doJSON(r, http.MethodPost, "/notifications/1/engagement",
		models.EngagementRequest{Type: models.EngagementOpen})
	require.Equal(t, http.StatusOK, w.Code)

	after, _ := repo.Get(context.Background(), 1)
	assert.Equal(t, models.StatusRead, after.Status)

	w = doJSON(r, http.MethodPost, "/notifications/1/engagement",
		models.EngagementRequest{Type: "SHRUG"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
