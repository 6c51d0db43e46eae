// Package catalog defines the pricing contract consumed at checkout.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemUnavailableError indicates a food id that does not resolve to an
// available item of the requested branch.
type ItemUnavailableError struct {
	FoodID   int64
	BranchID int64
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("food %d is not available in branch %d", e.FoodID, e.BranchID)
}

// Price is the authoritative price of a food at the time of resolution.
type Price struct {
	FoodID          int64
	Name            string
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// Resolver returns prices for a set of foods of one branch. Any id that
// cannot be resolved fails the whole call with *ItemUnavailableError.
type Resolver interface {
	Resolve(ctx context.Context, branchID int64, foodIDs []int64) (map[int64]Price, error)
}

// Food is the catalog read model backing the Resolver.
type Food struct {
	ID              int64
	BranchID        int64
	Name            string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Available       bool
}
