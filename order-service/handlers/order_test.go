package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

// memRepo backs the handler tests with map-based persistence.
type memRepo struct {
	nextID  int64
	orders  map[int64]*models.Order
	numbers map[string]int64
	audits  map[int64][]models.OrderAudit
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:  make(map[int64]*models.Order),
		numbers: make(map[string]int64),
		audits:  make(map[int64][]models.OrderAudit),
	}
}

func (r *memRepo) CreateOrder(_ context.Context, o *models.Order, audit models.OrderAudit) error {
	r.nextID++
	o.ID = r.nextID
	cp := *o
	r.orders[o.ID] = &cp
	r.numbers[o.OrderNumber] = o.ID
	r.audits[o.ID] = append(r.audits[o.ID], audit)
	return nil
}

func (r *memRepo) OrderNumberExists(_ context.Context, number string) (bool, error) {
	_, ok := r.numbers[number]
	return ok, nil
}

func (r *memRepo) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	id, ok := r.numbers[number]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	return r.GetOrder(ctx, id)
}

func (r *memRepo) Mutate(_ context.Context, orderID int64, fn func(*models.Order) (*database.Change, error)) (*models.Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	work := *o
	change, err := fn(&work)
	if err != nil {
		return nil, err
	}
	if change != nil {
		if change.Order != nil {
			cp := *change.Order
			r.orders[orderID] = &cp
			o = &cp
		}
		for _, a := range change.Audits {
			a.OrderID = orderID
			r.audits[orderID] = append(r.audits[orderID], a)
		}
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListAudit(_ context.Context, orderID int64) ([]models.OrderAudit, error) {
	return r.audits[orderID], nil
}

func (r *memRepo) SoftDelete(_ context.Context, orderID int64, audit models.OrderAudit) error {
	if _, ok := r.orders[orderID]; !ok {
		return errs.New(errs.KindNotFound, "order not found")
	}
	delete(r.orders, orderID)
	r.audits[orderID] = append(r.audits[orderID], audit)
	return nil
}

func (r *memRepo) seed(o models.Order) *models.Order {
	r.nextID++
	o.ID = r.nextID
	if o.OrderNumber == "" {
		o.OrderNumber = "ORD-SEED0001"
	}
	r.orders[o.ID] = &o
	r.numbers[o.OrderNumber] = o.ID
	return &o
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, string, any, int) error { return nil }

type noopInventory struct{}

func (noopInventory) Reserve(context.Context, *models.Order) error { return nil }
func (noopInventory) Release(context.Context, int64) error         { return nil }

type noopPayments struct{}

func (noopPayments) Authorize(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "AUTHORIZED"}, nil
}
func (noopPayments) Capture(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "CAPTURED"}, nil
}
func (noopPayments) Void(context.Context, int64) error { return nil }
func (noopPayments) Refund(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "REFUNDED"}, nil
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, clients.NotificationRequest) error { return nil }

func newTestServer(t *testing.T) (*gin.Engine, *memRepo) {
	gin.SetMode(gin.TestMode)
	repo := newMemRepo()
	eng := engine.New(repo, noopPublisher{}, noopInventory{}, noopPayments{},
		noopNotifier{}, nil, nil, zaptest.NewLogger(t))

	r := gin.New()
	r.Use(middleware.PrincipalMiddleware())
	NewOrderHandler(eng, zaptest.NewLogger(t)).Register(r)
	return r, repo
}

func doJSON(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func asUser(id, username string) map[string]string {
	return map[string]string{
		"X-User-Id":       id,
		"X-User-Username": username,
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/orders", models.CreateOrderRequest{
		Currency: "USD",
		Items: []models.CreateOrderItem{
			{ProductID: 1, SKU: "PROD-0001", Quantity: 2, UnitPrice: 10.00},
		},
	}, asUser("42", "alice"))

	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, response.BizCreated, envelope.Code)

	data := envelope.Data.(map[string]any)
	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, data["orderNumber"])
	assert.Equal(t, string(models.OrderStatusPending), data["status"])
	total := data["totalAmount"].(map[string]any)
	assert.Equal(t, 20.0, total["amount"])
	assert.Equal(t, "USD", total["currency"])
}

func TestCreateOrderEndpoint_RequiresPrincipal(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/orders", models.CreateOrderRequest{
		Currency: "USD",
		Items:    []models.CreateOrderItem{{ProductID: 1, SKU: "X", Quantity: 1, UnitPrice: 1}},
	}, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeUnauthorized, envelope.Code)
}

func TestCreateOrderEndpoint_MalformedBody(t *testing.T) {
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-Id", "42")
	req.Header.Set("X-User-Username", "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeValidationError, envelope.Code)
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/orders/999", nil, asUser("42", "alice"))
	require.Equal(t, http.StatusNotFound, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeResourceNotFound, envelope.Code)
	assert.NotEmpty(t, envelope.TraceID)
}

func TestGetOrderEndpoint_BadID(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/orders/abc", nil, asUser("42", "alice"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeInvalidParameterType, envelope.Code)
}

func TestCancelOrderEndpoint_DeliveredIsBusinessError(t *testing.T) {
	r, repo := newTestServer(t)
	seeded := repo.seed(models.Order{Status: models.OrderStatusDelivered, UserID: 42, Currency: "USD"})

	w := doJSON(r, http.MethodPost, "/orders/1/cancel",
		models.CancelRequest{Reason: "too late"}, asUser("42", "alice"))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeBusinessError, envelope.Code)
	assert.Equal(t, "Order cannot be cancelled", envelope.Message)

	after, _ := repo.GetOrder(context.Background(), seeded.ID)
	assert.Equal(t, models.OrderStatusDelivered, after.Status)
}

func TestCancelOrderEndpoint(t *testing.T) {
	r, repo := newTestServer(t)
	repo.seed(models.Order{Status: models.OrderStatusPending, UserID: 42, Currency: "USD"})

	w := doJSON(r, http.MethodPost, "/orders/1/cancel",
		models.CancelRequest{Reason: "changed my mind"}, asUser("42", "alice"))

	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]any)
	assert.Equal(t, string(models.OrderStatusCancelled), data["status"])
}

func TestTransitionEndpoint_UnknownStatus(t *testing.T) {
	r, repo := newTestServer(t)
	repo.seed(models.Order{Status: models.OrderStatusPending, UserID: 42})

	w := doJSON(r, http.MethodPost, "/orders/1/status",
		models.TransitionRequest{Status: "BOGUS"}, asUser("42", "alice"))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, response.CodeValidationError, envelope.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	r, repo := newTestServer(t)
	repo.seed(models.Order{Status: models.OrderStatusPending, UserID: 42})

	w := doJSON(r, http.MethodPost, "/orders/1/status",
		models.TransitionRequest{Status: models.OrderStatusConfirmed, Reason: "manual"},
		asUser("42", "alice"))

	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Success
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]any)
	assert.Equal(t, string(models.OrderStatusConfirmed), data["status"])
}

func TestGetAuditEndpoint_UnknownOrderIs404(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/orders/5/audit", nil, asUser("42", "alice"))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteOrderEndpoint_RequiresAdmin(t *testing.T) {
	r, repo := newTestServer(t)
	repo.seed(models.Order{Status: models.OrderStatusPending, UserID: 42})

	w := doJSON(r, http.MethodDelete, "/orders/1", nil, asUser("42", "alice"))
	require.Equal(t, http.StatusForbidden, w.Code)

	headers := asUser("42", "alice")
	headers["X-User-Roles"] = "ADMIN"
	w = doJSON(r, http.MethodDelete, "/orders/1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/orders/1", nil, asUser("42", "alice"))
	require.Equal(t, http.StatusNotFound, w.Code)
}
