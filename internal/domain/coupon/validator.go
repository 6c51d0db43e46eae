package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator validates a coupon code for a branch and returns its discount
// percentage.
type Validator interface {
	Validate(ctx context.Context, code string, branchID int64) (decimal.Decimal, error)
}

// RepoValidator implements Validator on top of a Repository, evaluating the
// active window against wall-clock time.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon and checks it is enabled, scoped to branchID
// and active now. Lookup failures other than a missing code are returned
// wrapped so callers can tell a rejection from an outage.
func (v *RepoValidator) Validate(ctx context.Context, code string, branchID int64) (decimal.Decimal, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return decimal.Zero, ErrInvalidCoupon
	}

	c, err := v.repo.FindByCode(ctx, code, branchID)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return decimal.Zero, ErrInvalidCoupon
		}
		return decimal.Zero, errors.Wrap(err, "lookup coupon")
	}

	if !c.ActiveAt(v.now(), branchID) {
		return decimal.Zero, ErrInvalidCoupon
	}
	if c.DiscountPercent.LessThanOrEqual(decimal.Zero) || c.DiscountPercent.GreaterThan(hundred) {
		return decimal.Zero, ErrInvalidCoupon
	}
	return c.DiscountPercent, nil
}
