package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrBranchConflict is returned when an item from one branch is added to a
	// cart that already holds items from another branch. The caller must clear
	// the cart first.
	ErrBranchConflict = errors.New("cart holds items from another branch")
	// ErrLineNotFound is returned when updating a food that is not in the cart.
	ErrLineNotFound = errors.New("food is not in cart")
)

// MaxQuantity bounds the quantity of one cart line, including the sum of
// repeated adds.
const MaxQuantity = 999

// InvalidQuantityError indicates a quantity outside [1, MaxQuantity], either
// as requested or as the accumulated line total.
type InvalidQuantityError struct {
	FoodID   int64
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for food %d must be between 1 and %d", e.Quantity, e.FoodID, MaxQuantity)
}

// CheckQuantity returns *InvalidQuantityError unless 0 < qty <= MaxQuantity.
func CheckQuantity(foodID int64, qty int) error {
	if qty <= 0 || qty > MaxQuantity {
		return &InvalidQuantityError{FoodID: foodID, Quantity: qty}
	}
	return nil
}

// CheckAccumulated validates adding qty to a line that already holds
// current. The sum is computed without overflow.
func CheckAccumulated(foodID int64, current, qty int) error {
	if err := CheckQuantity(foodID, qty); err != nil {
		return err
	}
	if current > MaxQuantity-qty {
		return &InvalidQuantityError{FoodID: foodID, Quantity: current + qty}
	}
	return nil
}

// Line is a single pending selection in a user's cart.
type Line struct {
	FoodID   int64
	BranchID int64
	Quantity int
	AddedAt  time.Time
}

// Cart is the current state of a user's cart. BranchID is nil while the cart
// is empty.
type Cart struct {
	UserID   int64
	BranchID *int64
	Lines    []Line
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool {
	return len(c.Lines) == 0
}

// Store persists carts. Implementations must linearize mutations per user and
// enforce the single-branch rule inside AddItem.
type Store interface {
	AddItem(ctx context.Context, userID, foodID, branchID int64, qty int) error
	SetQuantity(ctx context.Context, userID, foodID int64, qty int) error
	List(ctx context.Context, userID int64) (*Cart, error)
	Clear(ctx context.Context, userID int64) error
}
