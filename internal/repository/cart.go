package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/internal/domain/cart"
)

const (
	ensureCartSQL = `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

	lockCartSQL = `SELECT branch_id FROM carts WHERE user_id = $1 FOR UPDATE`

	setCartBranchSQL = `UPDATE carts SET branch_id = $2 WHERE user_id = $1`

	resetEmptyCartBranchSQL = `UPDATE carts SET branch_id = NULL
		WHERE user_id = $1 AND NOT EXISTS (SELECT 1 FROM cart_items WHERE user_id = $1)`

	addCartItemSQL = `INSERT INTO cart_items (user_id, food_id, branch_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, food_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	getCartItemQuantitySQL = `SELECT quantity FROM cart_items WHERE user_id = $1 AND food_id = $2`

	setCartItemQuantitySQL = `UPDATE cart_items SET quantity = $3 WHERE user_id = $1 AND food_id = $2`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND food_id = $2`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE user_id = $1`

	getCartBranchSQL = `SELECT branch_id FROM carts WHERE user_id = $1`

	listCartItemsSQL = `SELECT food_id, branch_id, quantity, added_at
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, food_id`
)

var _ cart.Store = (*CartRepository)(nil)

// CartRepository implements cart.Store backed by PostgreSQL. Mutations of one
// user are serialized by a row lock on the carts header.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// lockCart ensures the header row exists and locks it until tx ends.
func lockCart(ctx context.Context, tx pgx.Tx, userID int64) (*int64, error) {
	if _, err := tx.Exec(ctx, ensureCartSQL, userID); err != nil {
		return nil, fmt.Errorf("creating cart of user %d: %w", userID, err)
	}
	var branchID *int64
	if err := tx.QueryRow(ctx, lockCartSQL, userID).Scan(&branchID); err != nil {
		return nil, fmt.Errorf("locking cart of user %d: %w", userID, err)
	}
	return branchID, nil
}

func (r *CartRepository) AddItem(ctx context.Context, userID, foodID, branchID int64, qty int) error {
	if err := cart.CheckQuantity(foodID, qty); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := lockCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != nil && *current != branchID {
			return cart.ErrBranchConflict
		}

		var existing int32
		err = tx.QueryRow(ctx, getCartItemQuantitySQL, userID, foodID).Scan(&existing)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reading food %d in cart of user %d: %w", foodID, userID, err)
		}
		if err := cart.CheckAccumulated(foodID, int(existing), qty); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, addCartItemSQL, userID, foodID, branchID, qty); err != nil {
			return fmt.Errorf("adding food %d to cart of user %d: %w", foodID, userID, err)
		}
		if current == nil {
			if _, err := tx.Exec(ctx, setCartBranchSQL, userID, branchID); err != nil {
				return fmt.Errorf("setting cart branch of user %d: %w", userID, err)
			}
		}
		return nil
	})
}

func (r *CartRepository) SetQuantity(ctx context.Context, userID, foodID int64, qty int) error {
	if qty > cart.MaxQuantity {
		return &cart.InvalidQuantityError{FoodID: foodID, Quantity: qty}
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, userID); err != nil {
			return err
		}

		if qty > 0 {
			tag, err := tx.Exec(ctx, setCartItemQuantitySQL, userID, foodID, qty)
			if err != nil {
				return fmt.Errorf("updating food %d in cart of user %d: %w", foodID, userID, err)
			}
			if tag.RowsAffected() == 0 {
				return cart.ErrLineNotFound
			}
			return nil
		}

		if _, err := tx.Exec(ctx, deleteCartItemSQL, userID, foodID); err != nil {
			return fmt.Errorf("removing food %d from cart of user %d: %w", foodID, userID, err)
		}
		if _, err := tx.Exec(ctx, resetEmptyCartBranchSQL, userID); err != nil {
			return fmt.Errorf("resetting cart branch of user %d: %w", userID, err)
		}
		return nil
	})
}

func (r *CartRepository) List(ctx context.Context, userID int64) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}

	err := r.pool.QueryRow(ctx, getCartBranchSQL, userID).Scan(&c.BranchID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loading cart of user %d: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, listCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of user %d: %w", userID, err)
	}
	c.Lines, err = pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("listing cart of user %d: %w", userID, err)
	}
	if len(c.Lines) == 0 {
		c.BranchID = nil
	}
	return c, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID int64) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, clearCartItemsSQL, userID); err != nil {
			return fmt.Errorf("clearing cart of user %d: %w", userID, err)
		}
		if _, err := tx.Exec(ctx, setCartBranchSQL, userID, nil); err != nil {
			return fmt.Errorf("resetting cart branch of user %d: %w", userID, err)
		}
		return nil
	})
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l   cart.Line
		qty int32
	)
	err := row.Scan(&l.FoodID, &l.BranchID, &qty, &l.AddedAt)
	l.Quantity = int(qty)
	return l, err
}
