package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidCoupon is returned when a coupon code is unknown, disabled,
// outside its active window or scoped to another branch.
var ErrInvalidCoupon = errors.New("invalid coupon code")

// Coupon is a percentage discount redeemable at one branch during
// [ActiveFrom, ActiveTo).
type Coupon struct {
	Code            string
	BranchID        int64
	DiscountPercent decimal.Decimal
	ActiveFrom      time.Time
	ActiveTo        time.Time
	Enabled         bool
}

// ActiveAt reports whether the coupon is redeemable at t for branchID.
func (c *Coupon) ActiveAt(t time.Time, branchID int64) bool {
	if !c.Enabled || c.BranchID != branchID {
		return false
	}
	return !t.Before(c.ActiveFrom) && t.Before(c.ActiveTo)
}

// Repository provides read access to coupons. FindByCode returns
// ErrInvalidCoupon when no coupon with the code exists for the branch.
type Repository interface {
	FindByCode(ctx context.Context, code string, branchID int64) (*Coupon, error)
}

var hundred = decimal.NewFromInt(100)

// DiscountAmount returns subtotal * percent / 100 rounded to 2 places.
func DiscountAmount(subtotal, percent decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(percent).Div(hundred).Round(2)
}
