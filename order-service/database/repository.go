package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
)

const orderColumns = `id, order_number, user_id, status, type, currency,
		subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
		shipping_address, billing_address, is_gift, requires_special_handling,
		priority, created_at, updated_at, confirmed_at, cancelled_at,
		expected_delivery_at, actual_delivery_at, deleted_at`

// Repository is the order persistence layer. All state transitions go
// through Mutate, which serializes writers per order with a row lock.
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

// CreateOrder persists the order, its items and the creation audit row in
// one transaction. The order's ID and item IDs are filled in.
func (r *Repository) CreateOrder(ctx context.Context, o *models.Order, audit models.OrderAudit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "begin transaction", err)
	}
	defer tx.Rollback()

	now := r.clk.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, user_id, status, type, currency,
			subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
			shipping_address, billing_address, is_gift, requires_special_handling,
			priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		o.OrderNumber, o.UserID, o.Status, o.Type, o.Currency,
		o.Subtotal, o.TaxAmount, o.ShippingAmount, o.DiscountAmount, o.TotalAmount,
		o.ShippingAddress, o.BillingAddress, o.IsGift, o.RequiresSpecialHandling,
		o.Priority, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.KindConflict, "order number already exists")
		}
		return errs.Wrap(errs.KindInternal, "insert order", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, sku, name, quantity,
				unit_price, discount, tax, total_price, final_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			item.OrderID, item.ProductID, item.SKU, item.Name, item.Quantity,
			item.UnitPrice, item.Discount, item.Tax, item.TotalPrice, item.FinalPrice,
		).Scan(&item.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "insert order item", err)
		}
	}

	audit.OrderID = o.ID
	audit.ActionAt = now
	if err := appendAudit(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindInternal, "commit transaction", err)
	}
	return nil
}

// OrderNumberExists is used by the creation retry loop.
func (r *Repository) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", number,
	).Scan(&exists)
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, "check order number", err)
	}
	return exists, nil
}

// GetOrder loads a live order with its items. Soft-deleted rows read as
// not found.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return r.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL", id)
}

func (r *Repository) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return r.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_number = $1 AND deleted_at IS NULL", number)
}

func (r *Repository) getOrder(ctx context.Context, query string, arg any) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *Repository) loadItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, sku, name, quantity,
			unit_price, discount, tax, total_price, final_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "load order items", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name,
			&it.Quantity, &it.UnitPrice, &it.Discount, &it.Tax,
			&it.TotalPrice, &it.FinalPrice); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "scan order item", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Change is what a Mutate callback wants persisted. A nil Change means the
// callback decided to write nothing.
type Change struct {
	Order    *models.Order
	Audits   []models.OrderAudit
	Shipping *models.OrderShipping
}

// Mutate locks the order row (SELECT ... FOR UPDATE), hands the current
// state to fn and persists whatever fn returns, all in one transaction.
// Concurrent writers on the same order serialize on the lock.
func (r *Repository) Mutate(ctx context.Context, orderID int64, fn func(*models.Order) (*Change, error)) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "begin transaction", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", orderID))
	if err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	change, err := fn(o)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return o, tx.Commit()
	}

	now := r.clk.Now().UTC()
	if change.Order != nil {
		change.Order.UpdatedAt = now
		if err := updateOrder(ctx, tx, change.Order); err != nil {
			return nil, err
		}
		o = change.Order
	}
	for _, audit := range change.Audits {
		audit.OrderID = orderID
		if audit.ActionAt.IsZero() {
			audit.ActionAt = now
		}
		if err := appendAudit(ctx, tx, audit); err != nil {
			return nil, err
		}
	}
	if change.Shipping != nil {
		change.Shipping.OrderID = orderID
		change.Shipping.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_shipping (order_id, status, tracking_number, carrier, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			change.Shipping.OrderID, change.Shipping.Status,
			change.Shipping.TrackingNumber, change.Shipping.Carrier,
			change.Shipping.UpdatedAt,
		); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "insert shipping row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "commit transaction", err)
	}
	return o, nil
}

// SoftDelete hides the order from all lookups and records the actor.
func (r *Repository) SoftDelete(ctx context.Context, orderID int64, audit models.OrderAudit) error {
	_, err := r.Mutate(ctx, orderID, func(o *models.Order) (*Change, error) {
		now := r.clk.Now().UTC()
		o.DeletedAt = &now
		return &Change{Order: o, Audits: []models.OrderAudit{audit}}, nil
	})
	return err
}

// ListAudit returns the order's audit trail, oldest first.
func (r *Repository) ListAudit(ctx context.Context, orderID int64) ([]models.OrderAudit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, action, actor_user_id, action_at, ip_address, payload
		FROM order_audit WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "load audit trail", err)
	}
	defer rows.Close()

	var out []models.OrderAudit
	for rows.Next() {
		var a models.OrderAudit
		var actor sql.NullInt64
		var ip, payload sql.NullString
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Action, &actor, &a.ActionAt, &ip, &payload); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "scan audit row", err)
		}
		if actor.Valid {
			a.ActorUserID = &actor.Int64
		}
		a.IPAddress = ip.String
		a.Payload = payload.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func updateOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, subtotal = $2, tax_amount = $3,
			shipping_amount = $4, discount_amount = $5, total_amount = $6,
			updated_at = $7, confirmed_at = $8, cancelled_at = $9,
			expected_delivery_at = $10, actual_delivery_at = $11, deleted_at = $12
		WHERE id = $13`,
		o.Status, o.Subtotal, o.TaxAmount,
		o.ShippingAmount, o.DiscountAmount, o.TotalAmount,
		o.UpdatedAt, o.ConfirmedAt, o.CancelledAt,
		o.ExpectedDeliveryAt, o.ActualDeliveryAt, o.DeletedAt,
		o.ID,
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "update order", err)
	}
	return nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, a models.OrderAudit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_audit (order_id, action, actor_user_id, action_at, ip_address, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.OrderID, a.Action, a.ActorUserID, a.ActionAt, nullString(a.IPAddress), nullString(a.Payload),
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "append audit row", err)
	}
	return nil
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	var shippingAddr, billingAddr sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.Type, &o.Currency,
		&o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&shippingAddr, &billingAddr, &o.IsGift, &o.RequiresSpecialHandling,
		&o.Priority, &o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.CancelledAt,
		&o.ExpectedDeliveryAt, &o.ActualDeliveryAt, &o.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "scan order", err)
	}
	o.ShippingAddress = shippingAddr.String
	o.BillingAddress = billingAddr.String
	return &o, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// 23505 is unique_violation.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
