package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/order"
)

const orderColumns = `id, user_id, seller_id, status, payment_status, subtotal, promotion_discount,
	coupon_discount, total, coupon_code, COALESCE(delivery_person_id, ''), delivery_location,
	cancel_reason, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, seller_id, status, payment_status, subtotal,
		promotion_discount, coupon_discount, total, coupon_code, delivery_location, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	insertOrderItemSQL = `INSERT INTO order_items
	(order_id, line, product_id, quantity, unit_price, discount, promotion_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($1 = '' OR user_id = $1)
		AND ($2 = '' OR seller_id = $2)
		AND ($3 = '' OR delivery_person_id = $3)
	ORDER BY created_at DESC, id DESC
	LIMIT $4 OFFSET $5`

	listOrderItemsSQL = `SELECT order_id, product_id, quantity, unit_price, discount, promotion_id
	FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line`

	updateOrderStatusSQL = `UPDATE orders SET status = $2,
		cancel_reason = CASE WHEN $3 = '' THEN cancel_reason ELSE $3 END,
		updated_at = NOW()
	WHERE id = $1`

	updateOrderPaymentSQL = `UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`

	assignOrderCourierSQL = `UPDATE orders SET delivery_person_id = $2, updated_at = NOW() WHERE id = $1`
)

const defaultOrderPage = 50

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order row and its items atomically.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)
		_, err := q.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.SellerID, string(o.Status), string(o.PaymentStatus),
			o.Subtotal, o.PromotionDiscount, o.CouponDiscount, o.Total,
			o.CouponCode, o.DeliveryLocation, o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertOrderItemSQL,
				o.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice, it.Discount, it.PromotionID)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}
		return nil
	})
}

// Get returns an order with its items or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("scanning order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns the orders matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultOrderPage
	}

	rows, err := r.db.conn(ctx).Query(ctx, listOrdersSQL,
		f.UserID, f.SellerID, f.DeliveryPersonID, limit, max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.db.conn(ctx).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("querying order items: %w", err)
	}

	type orderItem struct {
		orderID string
		item    order.Item
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orderItem, error) {
		var oi orderItem
		err := row.Scan(&oi.orderID, &oi.item.ProductID, &oi.item.Quantity,
			&oi.item.UnitPrice, &oi.item.Discount, &oi.item.PromotionID)
		return oi, err
	})
	if err != nil {
		return fmt.Errorf("scanning order items: %w", err)
	}

	for _, oi := range items {
		o := &orders[index[oi.orderID]]
		o.Items = append(o.Items, oi.item)
	}
	return nil
}

// UpdateStatus stores a new order status. An empty cancel reason keeps the
// stored one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u order.StatusUpdate) error {
	return r.exec(ctx, id, updateOrderStatusSQL, string(u.Status), u.CancelReason)
}

// UpdatePayment stores a new payment status.
func (r *OrderRepository) UpdatePayment(ctx context.Context, id string, status order.PaymentStatus) error {
	return r.exec(ctx, id, updateOrderPaymentSQL, string(status))
}

// AssignCourier sets the delivery person of the order.
func (r *OrderRepository) AssignCourier(ctx context.Context, id, personID string) error {
	return r.exec(ctx, id, assignOrderCourierSQL, personID)
}

func (r *OrderRepository) exec(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.conn(ctx).Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.SellerID, &status, &paymentStatus,
		&o.Subtotal, &o.PromotionDiscount, &o.CouponDiscount, &o.Total,
		&o.CouponCode, &o.DeliveryPersonID, &o.DeliveryLocation, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}
