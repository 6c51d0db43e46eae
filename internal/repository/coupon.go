package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, branch_id, discount_percent, active_from, active_to, enabled
		FROM coupons WHERE UPPER(code) = UPPER($1) AND branch_id = $2`

	upsertCouponSQL = `INSERT INTO coupons (code, branch_id, discount_percent, active_from, active_to, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (branch_id, UPPER(code)) DO UPDATE SET
			discount_percent = EXCLUDED.discount_percent,
			active_from = EXCLUDED.active_from,
			active_to = EXCLUDED.active_to,
			enabled = EXCLUDED.enabled`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up the coupon of a branch by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when the branch has no such coupon.
func (r *CouponRepository) FindByCode(ctx context.Context, code string, branchID int64) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code, branchID)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert inserts or replaces coupons in one batch and returns the number of
// rows written.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	if len(coupons) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, c := range coupons {
		b.Queue(upsertCouponSQL, c.Code, c.BranchID, c.DiscountPercent, c.ActiveFrom, c.ActiveTo, c.Enabled)
	}

	br := r.pool.SendBatch(ctx, b)
	defer func() { _ = br.Close() }()

	var written int64
	for i := range coupons {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("upserting coupon %q: %w", coupons[i].Code, err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.BranchID, &c.DiscountPercent, &c.ActiveFrom, &c.ActiveTo, &c.Enabled)
	return c, err
}
