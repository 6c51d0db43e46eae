package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/internal/domain/order"
)

const (
	orderColumns = `id, user_id, customer_name, branch_id, status, payment_method, coupon_code,
		subtotal, discount_amount, total_price, delivery_address, customer_phone, note,
		created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	createOrderItemSQL = `INSERT INTO order_items
		(order_id, line_no, food_id, food_name, unit_price, discount_percent, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT order_id, food_id, food_name, unit_price, discount_percent, price, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`

	listOrdersByBranchSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE branch_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC LIMIT $3`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC LIMIT $3`

	casOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listStalePendingSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.CustomerName, o.BranchID, string(o.Status), string(o.PaymentMethod), o.CouponCode,
			o.Subtotal, o.DiscountAmount, o.TotalPrice, o.DeliveryAddress, o.CustomerPhone, o.Note,
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting order header: %w", err)
		}

		b := &pgx.Batch{}
		for i, l := range o.Lines {
			b.Queue(createOrderItemSQL,
				o.ID, i+1, l.FoodID, l.FoodName, l.UnitPrice, l.DiscountPercent, l.Price, l.Quantity,
			)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("inserting order lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with its lines, or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) ListByBranch(ctx context.Context, branchID int64, f order.ListFilter) ([]order.Order, error) {
	f = f.Normalize()
	return r.list(ctx, listOrdersByBranchSQL, branchID, f)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	f = f.Normalize()
	return r.list(ctx, listOrdersByUserSQL, userID, f)
}

func (r *OrderRepository) list(ctx context.Context, query string, owner int64, f order.ListFilter) ([]order.Order, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, query, owner, status, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CompareAndSetStatus moves an order from one status to another. It reports
// false when the order exists but is no longer in status from.
func (r *OrderRepository) CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, casOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return false, order.ErrNotFound
	}
	return false, nil
}

func (r *OrderRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listStalePendingSQL, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       order.Line
			qty     int32
		)
		if err := rows.Scan(&orderID, &l.FoodID, &l.FoodName, &l.UnitPrice, &l.DiscountPercent, &l.Price, &qty); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		l.Quantity = int(qty)
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading order lines: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentMethod string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.CustomerName, &o.BranchID, &status, &paymentMethod, &o.CouponCode,
		&o.Subtotal, &o.DiscountAmount, &o.TotalPrice, &o.DeliveryAddress, &o.CustomerPhone, &o.Note,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	return o, err
}
