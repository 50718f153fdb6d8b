package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, clock.NewFake(testNow)), mock
}

var orderColumnList = []string{
	"id", "order_number", "user_id", "status", "type", "currency",
	"subtotal", "tax_amount", "shipping_amount", "discount_amount", "total_amount",
	"shipping_address", "billing_address", "is_gift", "requires_special_handling",
	"priority", "created_at", "updated_at", "confirmed_at", "cancelled_at",
	"expected_delivery_at", "actual_delivery_at", "deleted_at",
}

func orderRow(id int64, status models.OrderStatus) *sqlmock.Rows {
	return sqlmock.NewRows(orderColumnList).AddRow(
		id, "ORD-DEADBEEF", int64(42), string(status), "STANDARD", "USD",
		20.0, 0.0, 0.0, 0.0, 20.0,
		nil, nil, false, false,
		3, testNow, testNow, nil, nil,
		nil, nil, nil,
	)
}

func itemRows(orderID int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_id", "product_id", "sku", "name", "quantity",
		"unit_price", "discount", "tax", "total_price", "final_price",
	}).AddRow(int64(1), orderID, int64(9), "PROD-0009", "Widget", 2, 10.0, 0.0, 0.0, 20.0, 20.0)
}

func TestCreateOrder(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs("ORD-DEADBEEF", int64(42), string(models.OrderStatusPending), "STANDARD", "USD",
			20.0, 0.0, 0.0, 0.0, 20.0,
			"", "", false, false,
			3, testNow, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("INSERT INTO order_audit").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order := &models.Order{
		OrderNumber: "ORD-DEADBEEF",
		UserID:      42,
		Status:      models.OrderStatusPending,
		Type:        models.OrderTypeStandard,
		Currency:    "USD",
		Subtotal:    20.0,
		TotalAmount: 20.0,
		Priority:    3,
		Items:       []models.OrderItem{{ProductID: 9, SKU: "PROD-0009", Quantity: 2, UnitPrice: 10, TotalPrice: 20, FinalPrice: 20}},
	}
	actor := int64(42)
	err := repo.CreateOrder(context.Background(), order, models.OrderAudit{
		Action:      "CREATE_ORDER",
		ActorUserID: &actor,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), order.ID)
	assert.Equal(t, int64(11), order.Items[0].ID)
	assert.Equal(t, int64(7), order.Items[0].OrderID)
	assert.Equal(t, testNow, order.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type uniqueViolation struct{}

func (uniqueViolation) Error() string    { return "duplicate key value violates unique constraint" }
func (uniqueViolation) SQLState() string { return "23505" }

func TestCreateOrder_DuplicateNumberIsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").WillReturnError(uniqueViolation{})
	mock.ExpectRollback()

	err := repo.CreateOrder(context.Background(), &models.Order{OrderNumber: "ORD-DEADBEEF"}, models.OrderAudit{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(orderRow(7, models.OrderStatusProcessing))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WithArgs(int64(7)).
		WillReturnRows(itemRows(7))

	order, err := repo.GetOrder(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, "ORD-DEADBEEF", order.OrderNumber)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "PROD-0009", order.Items[0].SKU)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(orderColumnList))

	_, err := repo.GetOrder(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestOrderNumberExists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ORD-DEADBEEF").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.OrderNumberExists(context.Background(), "ORD-DEADBEEF")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMutate_PersistsOrderAuditAndShipping(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id (.+) FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(orderRow(7, models.OrderStatusOutForDelivery))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WithArgs(int64(7)).
		WillReturnRows(itemRows(7))
	mock.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_audit").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_shipping").
		WithArgs(int64(7), "DELIVERED", "TRK-1", "dhl", testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	updated, err := repo.Mutate(context.Background(), 7, func(o *models.Order) (*Change, error) {
		o.Status = models.OrderStatusDelivered
		return &Change{
			Order:    o,
			Audits:   []models.OrderAudit{{Action: "SHIPPING_UPDATE"}},
			Shipping: &models.OrderShipping{Status: "DELIVERED", TrackingNumber: "TRK-1", Carrier: "dhl"},
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivered, updated.Status)
	assert.Equal(t, testNow, updated.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutate_CallbackErrorRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id (.+) FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(orderRow(7, models.OrderStatusDelivered))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WithArgs(int64(7)).
		WillReturnRows(itemRows(7))
	mock.ExpectRollback()

	rejected := errs.New(errs.KindConflict, "Order cannot be cancelled")
	_, err := repo.Mutate(context.Background(), 7, func(o *models.Order) (*Change, error) {
		return nil, rejected
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rejected))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutate_NilChangeCommitsNothing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id (.+) FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(orderRow(7, models.OrderStatusPaymentAuthorized))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WithArgs(int64(7)).
		WillReturnRows(itemRows(7))
	mock.ExpectCommit()

	order, err := repo.Mutate(context.Background(), 7, func(o *models.Order) (*Change, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaymentAuthorized, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(uniqueViolation{}))
	assert.False(t, isUniqueViolation(errors.New("some other failure")))
}
