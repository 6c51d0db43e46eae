package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrInvalidReference is returned for non-positive user, food or branch ids.
var ErrInvalidReference = errors.New("invalid cart reference")

// Service validates cart mutations and delegates them to a Store under a
// bounded timeout.
type Service struct {
	store   Store
	timeout time.Duration
	lg      *zap.Logger
}

// NewService creates a cart Service. A zero timeout disables the per-call
// deadline.
func NewService(store Store, timeout time.Duration, lg *zap.Logger) *Service {
	return &Service{store: store, timeout: timeout, lg: lg}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// AddItem adds qty of a food from branchID. Repeated adds of the same food
// accumulate.
func (s *Service) AddItem(ctx context.Context, userID, foodID, branchID int64, qty int) error {
	if userID <= 0 || foodID <= 0 || branchID <= 0 {
		return ErrInvalidReference
	}
	if err := CheckQuantity(foodID, qty); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.AddItem(ctx, userID, foodID, branchID, qty); err != nil {
		return fmt.Errorf("add food %d: %w", foodID, err)
	}
	s.lg.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("food_id", foodID),
		zap.Int64("branch_id", branchID),
		zap.Int("qty", qty),
	)
	return nil
}

// SetQuantity sets the exact quantity of a line; qty <= 0 removes it.
func (s *Service) SetQuantity(ctx context.Context, userID, foodID int64, qty int) error {
	if userID <= 0 || foodID <= 0 {
		return ErrInvalidReference
	}
	if qty > MaxQuantity {
		return &InvalidQuantityError{FoodID: foodID, Quantity: qty}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.SetQuantity(ctx, userID, foodID, qty); err != nil {
		return fmt.Errorf("set quantity of food %d: %w", foodID, err)
	}
	return nil
}

// List returns the user's cart.
func (s *Service) List(ctx context.Context, userID int64) (*Cart, error) {
	if userID <= 0 {
		return nil, ErrInvalidReference
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	return c, nil
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *Service) Clear(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrInvalidReference
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
