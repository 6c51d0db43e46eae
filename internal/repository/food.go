package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/internal/domain/catalog"
)

const (
	resolveFoodsSQL = `SELECT id, branch_id, name, price, discount_percent, available
		FROM foods WHERE branch_id = $1 AND id = ANY($2) AND available = TRUE`

	listFoodsByBranchSQL = `SELECT id, branch_id, name, price, discount_percent, available
		FROM foods WHERE branch_id = $1 ORDER BY id`

	upsertFoodSQL = `INSERT INTO foods (id, branch_id, name, price, discount_percent, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET branch_id = EXCLUDED.branch_id, name = EXCLUDED.name,
			price = EXCLUDED.price, discount_percent = EXCLUDED.discount_percent, available = EXCLUDED.available`

	syncFoodSequenceSQL = `SELECT setval(pg_get_serial_sequence('foods', 'id'), GREATEST((SELECT MAX(id) FROM foods), 1))`
)

var _ catalog.Resolver = (*FoodRepository)(nil)

// FoodRepository implements catalog.Resolver backed by PostgreSQL.
type FoodRepository struct {
	pool *pgxpool.Pool
}

// NewFoodRepository returns a FoodRepository that uses the given pool.
func NewFoodRepository(pool *pgxpool.Pool) *FoodRepository {
	return &FoodRepository{pool: pool}
}

// Resolve returns the current prices of foodIDs in branchID. The first id
// that is missing, belongs to another branch or is unavailable fails the call
// with *catalog.ItemUnavailableError.
func (r *FoodRepository) Resolve(ctx context.Context, branchID int64, foodIDs []int64) (map[int64]catalog.Price, error) {
	rows, err := r.pool.Query(ctx, resolveFoodsSQL, branchID, foodIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving foods of branch %d: %w", branchID, err)
	}

	foods, err := pgx.CollectRows(rows, scanFood)
	if err != nil {
		return nil, fmt.Errorf("resolving foods of branch %d: %w", branchID, err)
	}

	prices := make(map[int64]catalog.Price, len(foods))
	for _, f := range foods {
		prices[f.ID] = catalog.Price{
			FoodID:          f.ID,
			Name:            f.Name,
			UnitPrice:       f.Price,
			DiscountPercent: f.DiscountPercent,
		}
	}
	for _, id := range foodIDs {
		if _, ok := prices[id]; !ok {
			return nil, &catalog.ItemUnavailableError{FoodID: id, BranchID: branchID}
		}
	}
	return prices, nil
}

// ListByBranch returns every food of a branch, available or not.
func (r *FoodRepository) ListByBranch(ctx context.Context, branchID int64) ([]catalog.Food, error) {
	rows, err := r.pool.Query(ctx, listFoodsByBranchSQL, branchID)
	if err != nil {
		return nil, fmt.Errorf("listing foods of branch %d: %w", branchID, err)
	}

	foods, err := pgx.CollectRows(rows, scanFood)
	if err != nil {
		return nil, fmt.Errorf("listing foods of branch %d: %w", branchID, err)
	}
	return foods, nil
}

// Upsert writes foods with their ids in one transaction.
func (r *FoodRepository) Upsert(ctx context.Context, foods []catalog.Food) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, f := range foods {
			if _, err := tx.Exec(ctx, upsertFoodSQL, f.ID, f.BranchID, f.Name, f.Price, f.DiscountPercent, f.Available); err != nil {
				return fmt.Errorf("food %d: %w", f.ID, err)
			}
		}
		_, err := tx.Exec(ctx, syncFoodSequenceSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting foods: %w", err)
	}
	return nil
}

func scanFood(row pgx.CollectableRow) (catalog.Food, error) {
	var f catalog.Food
	err := row.Scan(&f.ID, &f.BranchID, &f.Name, &f.Price, &f.DiscountPercent, &f.Available)
	return f, err
}
