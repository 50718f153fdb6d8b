package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

// fakeRepo applies Change values to an in-memory order map with the same
// semantics as the SQL repository.
type fakeRepo struct {
	nextID   int64
	orders   map[int64]*models.Order
	numbers  map[string]int64
	audits   map[int64][]models.OrderAudit
	shipping map[int64][]models.OrderShipping
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   make(map[int64]*models.Order),
		numbers:  make(map[string]int64),
		audits:   make(map[int64][]models.OrderAudit),
		shipping: make(map[int64][]models.OrderShipping),
	}
}

func (r *fakeRepo) CreateOrder(_ context.Context, o *models.Order, audit models.OrderAudit) error {
	if _, dup := r.numbers[o.OrderNumber]; dup {
		return errs.New(errs.KindConflict, "order number already exists")
	}
	r.nextID++
	o.ID = r.nextID
	cp := *o
	r.orders[o.ID] = &cp
	r.numbers[o.OrderNumber] = o.ID
	audit.OrderID = o.ID
	r.audits[o.ID] = append(r.audits[o.ID], audit)
	return nil
}

func (r *fakeRepo) OrderNumberExists(_ context.Context, number string) (bool, error) {
	_, ok := r.numbers[number]
	return ok, nil
}

func (r *fakeRepo) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	id, ok := r.numbers[number]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	return r.GetOrder(ctx, id)
}

func (r *fakeRepo) Mutate(_ context.Context, orderID int64, fn func(*models.Order) (*database.Change, error)) (*models.Order, error) {
	o, ok := r.orders[orderID]
	if !ok || o.DeletedAt != nil {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	work := *o
	change, err := fn(&work)
	if err != nil {
		return nil, err
	}
	if change == nil {
		cp := *o
		return &cp, nil
	}
	if change.Order != nil {
		cp := *change.Order
		r.orders[orderID] = &cp
		o = &cp
	}
	for _, a := range change.Audits {
		a.OrderID = orderID
		r.audits[orderID] = append(r.audits[orderID], a)
	}
	if change.Shipping != nil {
		s := *change.Shipping
		s.OrderID = orderID
		r.shipping[orderID] = append(r.shipping[orderID], s)
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) ListAudit(_ context.Context, orderID int64) ([]models.OrderAudit, error) {
	return r.audits[orderID], nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, orderID int64, audit models.OrderAudit) error {
	o, ok := r.orders[orderID]
	if !ok {
		return errs.New(errs.KindNotFound, "order not found")
	}
	now := time.Now()
	o.DeletedAt = &now
	r.audits[orderID] = append(r.audits[orderID], audit)
	return nil
}

func (r *fakeRepo) seed(o models.Order) *models.Order {
	r.nextID++
	o.ID = r.nextID
	if o.OrderNumber == "" {
		o.OrderNumber = "ORD-SEED0001"
	}
	r.orders[o.ID] = &o
	r.numbers[o.OrderNumber] = o.ID
	return &o
}

type publishedEvent struct {
	topic, key, eventType string
	payload               any
}

type fakePublisher struct{ events []publishedEvent }

func (p *fakePublisher) Publish(_ context.Context, topic, key, eventType string, payload any, _ int) error {
	p.events = append(p.events, publishedEvent{topic, key, eventType, payload})
	return nil
}

type fakeInventory struct {
	reserveErr error
	reserved   []int64
	released   []int64
}

func (f *fakeInventory) Reserve(_ context.Context, o *models.Order) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved = append(f.reserved, o.ID)
	return nil
}

func (f *fakeInventory) Release(_ context.Context, orderID int64) error {
	f.released = append(f.released, orderID)
	return nil
}

type fakePayments struct {
	authorized, captured, refunded []int64
	voided                         []int64
}

func (f *fakePayments) Authorize(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	f.authorized = append(f.authorized, req.OrderID)
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "AUTHORIZED"}, nil
}

func (f *fakePayments) Capture(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	f.captured = append(f.captured, req.OrderID)
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "CAPTURED"}, nil
}

func (f *fakePayments) Void(_ context.Context, orderID int64) error {
	f.voided = append(f.voided, orderID)
	return nil
}

func (f *fakePayments) Refund(_ context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	f.refunded = append(f.refunded, req.OrderID)
	return &clients.PaymentResult{OrderID: req.OrderID, Status: "REFUNDED"}, nil
}

type fakeNotifier struct{ sent []clients.NotificationRequest }

func (f *fakeNotifier) Send(_ context.Context, req clients.NotificationRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

type fakeIdem struct{ m map[string]string }

func (f *fakeIdem) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := f.m[key]
	return v, ok, nil
}

func (f *fakeIdem) Store(_ context.Context, key, number string) error {
	f.m[key] = number
	return nil
}

type testEnv struct {
	engine    *Engine
	repo      *fakeRepo
	publisher *fakePublisher
	inventory *fakeInventory
	payments  *fakePayments
	notifier  *fakeNotifier
	idem      *fakeIdem
	clk       *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		repo:      newFakeRepo(),
		publisher: &fakePublisher{},
		inventory: &fakeInventory{},
		payments:  &fakePayments{},
		notifier:  &fakeNotifier{},
		idem:      &fakeIdem{m: make(map[string]string)},
		clk:       clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	env.engine = New(env.repo, env.publisher, env.inventory, env.payments,
		env.notifier, env.idem, env.clk, zaptest.NewLogger(t))
	return env
}

var alice = identity.Principal{UserID: 42, Username: "alice"}

func createRequest() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Currency: "USD",
		Items: []models.CreateOrderItem{
			{ProductID: 1, SKU: "PROD-0001", Quantity: 2, UnitPrice: 10.00},
		},
	}
}

func TestCreateOrder_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	order, err := env.engine.CreateOrder(context.Background(), createRequest(), alice, "10.0.0.1", "")
	require.NoError(t, err)

	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, order.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(42), order.UserID)
	assert.Equal(t, 20.00, order.TotalAmount)

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, models.EventOrderCreated, env.publisher.events[0].eventType)
	assert.Equal(t, order.OrderNumber, env.publisher.events[0].key)

	audits, _ := env.repo.ListAudit(context.Background(), order.ID)
	require.Len(t, audits, 1)
	assert.Equal(t, "CREATE_ORDER", audits[0].Action)
	assert.Equal(t, "10.0.0.1", audits[0].IPAddress)
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	req := createRequest()
	req.Currency = "DOGE"
	_, err := env.engine.CreateOrder(context.Background(), req, alice, "", "")
	assert.True(t, errs.Is(err, errs.KindValidation))

	req = createRequest()
	req.Items = nil
	_, err = env.engine.CreateOrder(context.Background(), req, alice, "", "")
	assert.True(t, errs.Is(err, errs.KindValidation))

	req = createRequest()
	req.Items[0].Quantity = 0
	_, err = env.engine.CreateOrder(context.Background(), req, alice, "", "")
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCreateOrder_NumberCollisionRetries(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.Order{OrderNumber: "ORD-AAAAAAAA", Status: models.OrderStatusPending})

	numbers := []string{"ORD-AAAAAAAA", "ORD-AAAAAAAA", "ORD-BBBBBBBB"}
	env.engine.newOrderNumber = func() string {
		n := numbers[0]
		if len(numbers) > 1 {
			numbers = numbers[1:]
		}
		return n
	}

	order, err := env.engine.CreateOrder(context.Background(), createRequest(), alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ORD-BBBBBBBB", order.OrderNumber)
}

func TestCreateOrder_CollisionExhaustion(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.Order{OrderNumber: "ORD-AAAAAAAA", Status: models.OrderStatusPending})
	env.engine.newOrderNumber = func() string { return "ORD-AAAAAAAA" }

	_, err := env.engine.CreateOrder(context.Background(), createRequest(), alice, "", "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInternal))
}

func TestCreateOrder_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.engine.CreateOrder(context.Background(), createRequest(), alice, "", "key-1")
	require.NoError(t, err)

	second, err := env.engine.CreateOrder(context.Background(), createRequest(), alice, "", "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Len(t, env.repo.orders, 1)
	// The replay publishes nothing new.
	assert.Len(t, env.publisher.events, 1)
}

func TestCancelOrder_Delivered(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusDelivered, UserID: 42})

	_, err := env.engine.CancelOrder(context.Background(), seeded.ID, "changed my mind", alice, "")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.Equal(t, "Order cannot be cancelled", errs.MessageOf(err))

	// Row unchanged and no audit row for the rejected attempt.
	after, _ := env.repo.GetOrder(context.Background(), seeded.ID)
	assert.Equal(t, models.OrderStatusDelivered, after.Status)
	audits, _ := env.repo.ListAudit(context.Background(), seeded.ID)
	assert.Empty(t, audits)
	assert.Empty(t, env.inventory.released)
}

func TestCancelOrder_ReleasesAndVoids(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusPaymentAuthorized, UserID: 42})

	order, err := env.engine.CancelOrder(context.Background(), seeded.ID, "duplicate", alice, "")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, []int64{seeded.ID}, env.inventory.released)
	assert.Equal(t, []int64{seeded.ID}, env.payments.voided)

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, models.EventOrderCancelled, env.publisher.events[0].eventType)
}

func TestStartProcessing_InventoryFailureFailsOrder(t *testing.T) {
	env := newTestEnv(t)
	env.inventory.reserveErr = errors.New("out of stock")
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusConfirmed, UserID: 42, Currency: "USD"})

	_, err := env.engine.StartProcessing(context.Background(), seeded.ID)
	require.Error(t, err)

	after, _ := env.repo.GetOrder(context.Background(), seeded.ID)
	assert.Equal(t, models.OrderStatusFailed, after.Status)
	audits, _ := env.repo.ListAudit(context.Background(), seeded.ID)
	require.Len(t, audits, 1)
	assert.Equal(t, "ORDER_FAILED", audits[0].Action)
}

func TestStartProcessing_SetsShippingAndTransitions(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{
		Status:   models.OrderStatusConfirmed,
		UserID:   42,
		Currency: "USD",
		Items:    []models.OrderItem{{Quantity: 2, UnitPrice: 10}},
	})

	order, err := env.engine.StartProcessing(context.Background(), seeded.ID)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Equal(t, 5.99, order.ShippingAmount)
	assert.Equal(t, []int64{seeded.ID}, env.inventory.reserved)
}

func TestCompleteProcessing_MergedCapture(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusProcessing, UserID: 42, Currency: "USD"})

	order, err := env.engine.CompleteProcessing(context.Background(), seeded.ID, true)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPreparing, order.Status)
	assert.Equal(t, []int64{seeded.ID}, env.payments.authorized)
	assert.Empty(t, env.payments.captured, "capture=true merges the capture into authorize")

	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, "ORDER_PLACED", env.notifier.sent[0].Type)

	require.Len(t, env.repo.shipping[seeded.ID], 1)
	assert.Equal(t, "CREATED", env.repo.shipping[seeded.ID][0].Status)
}

func TestRefundOrder(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusPaid, UserID: 42, Currency: "USD"})

	order, err := env.engine.RefundOrder(context.Background(), seeded.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)
	assert.Equal(t, []int64{seeded.ID}, env.payments.refunded)
}

func TestTransition_SameStateAuditsOnly(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.repo.seed(models.Order{Status: models.OrderStatusProcessing, UserID: 42})

	order, err := env.engine.Transition(context.Background(), seeded.ID, models.OrderStatusProcessing, "noop", alice)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)

	audits, _ := env.repo.ListAudit(context.Background(), seeded.ID)
	require.Len(t, audits, 1)
	// No status-changed event for a same-state transition.
	assert.Empty(t, env.publisher.events)
}
