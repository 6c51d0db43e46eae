package catalog

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// ClampPercent bounds a percentage to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(zero) {
		return zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// DiscountedPrice returns unit * (1 - discount/100) rounded to 2 places.
func DiscountedPrice(unit, discountPercent decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(ClampPercent(discountPercent)).Div(hundred)
	return unit.Mul(factor).Round(2)
}

// LineTotal returns the discount-adjusted total of qty units.
func LineTotal(unit, discountPercent decimal.Decimal, qty int) decimal.Decimal {
	return DiscountedPrice(unit, discountPercent).Mul(decimal.NewFromInt(int64(qty)))
}
