package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/internal/domain/payment"
)

const (
	appendPaymentSQL = `INSERT INTO payments (order_id, amount, transaction_id, method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	latestPaymentSQL = `SELECT id, order_id, amount, transaction_id, method, status, created_at
		FROM payments WHERE order_id = $1 ORDER BY id DESC LIMIT 1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
// Records are append-only.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Append inserts rec and sets its ID.
func (r *PaymentRepository) Append(ctx context.Context, rec *payment.Record) error {
	err := r.pool.QueryRow(ctx, appendPaymentSQL,
		rec.OrderID, rec.Amount, rec.TransactionID, rec.Method, string(rec.Status), rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("appending payment for order %q: %w", rec.OrderID, err)
	}
	return nil
}

// Latest returns the most recent record of an order, or payment.ErrNoRecord.
func (r *PaymentRepository) Latest(ctx context.Context, orderID string) (*payment.Record, error) {
	rows, err := r.pool.Query(ctx, latestPaymentSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting latest payment of order %q: %w", orderID, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNoRecord
		}
		return nil, fmt.Errorf("getting latest payment of order %q: %w", orderID, err)
	}
	return &rec, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Record, error) {
	var (
		rec    payment.Record
		status string
	)
	err := row.Scan(&rec.ID, &rec.OrderID, &rec.Amount, &rec.TransactionID, &rec.Method, &status, &rec.CreatedAt)
	rec.Status = payment.RecordStatus(status)
	return rec, err
}
