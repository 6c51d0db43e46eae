// Package cache holds Redis backed stores.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/foodorder/internal/domain/cart"
)

const defaultTxRetries = 5

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store on Redis. A cart is two hashes keyed by food
// id (quantity and add time) and a branch string. Mutations use WATCH/MULTI
// and are retried when another writer touched the same cart.
type CartStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	retries int
	now     func() time.Time
}

// NewCartStore returns a CartStore. Carts untouched for ttl expire; zero
// keeps them forever.
func NewCartStore(rdb redis.UniversalClient, ttl time.Duration) *CartStore {
	return &CartStore{
		rdb:     rdb,
		ttl:     ttl,
		retries: defaultTxRetries,
		now:     time.Now,
	}
}

type cartKeys struct {
	items  string
	added  string
	branch string
}

func keysFor(userID int64) cartKeys {
	base := "cart:" + strconv.FormatInt(userID, 10)
	return cartKeys{
		items:  base + ":items",
		added:  base + ":added",
		branch: base + ":branch",
	}
}

func (s *CartStore) watch(ctx context.Context, k cartKeys, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.rdb.Watch(ctx, fn, k.items, k.added, k.branch)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Errorf("cart transaction aborted after %d attempts", s.retries)
}

func (s *CartStore) touch(ctx context.Context, pipe redis.Pipeliner, k cartKeys) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, k.items, s.ttl)
	pipe.Expire(ctx, k.added, s.ttl)
	pipe.Expire(ctx, k.branch, s.ttl)
}

func (s *CartStore) AddItem(ctx context.Context, userID, foodID, branchID int64, qty int) error {
	if err := cart.CheckQuantity(foodID, qty); err != nil {
		return err
	}
	k := keysFor(userID)
	field := strconv.FormatInt(foodID, 10)

	return s.watch(ctx, k, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k.branch).Int64()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("reading cart branch of user %d: %w", userID, err)
		default:
			n, err := tx.HLen(ctx, k.items).Result()
			if err != nil {
				return fmt.Errorf("reading cart of user %d: %w", userID, err)
			}
			if n > 0 && current != branchID {
				return cart.ErrBranchConflict
			}
		}

		existing, err := tx.HGet(ctx, k.items, field).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("reading cart of user %d: %w", userID, err)
		}
		if err := cart.CheckAccumulated(foodID, existing, qty); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, k.items, field, int64(qty))
			pipe.HSetNX(ctx, k.added, field, s.now().UnixNano())
			pipe.Set(ctx, k.branch, branchID, 0)
			s.touch(ctx, pipe, k)
			return nil
		})
		return err
	})
}

func (s *CartStore) SetQuantity(ctx context.Context, userID, foodID int64, qty int) error {
	if qty > cart.MaxQuantity {
		return &cart.InvalidQuantityError{FoodID: foodID, Quantity: qty}
	}
	k := keysFor(userID)
	field := strconv.FormatInt(foodID, 10)

	return s.watch(ctx, k, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, k.items, field).Result()
		if err != nil {
			return fmt.Errorf("reading cart of user %d: %w", userID, err)
		}
		if !exists {
			if qty <= 0 {
				return nil
			}
			return cart.ErrLineNotFound
		}

		n, err := tx.HLen(ctx, k.items).Result()
		if err != nil {
			return fmt.Errorf("reading cart of user %d: %w", userID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if qty > 0 {
				pipe.HSet(ctx, k.items, field, qty)
				s.touch(ctx, pipe, k)
				return nil
			}
			pipe.HDel(ctx, k.items, field)
			pipe.HDel(ctx, k.added, field)
			if n <= 1 {
				pipe.Del(ctx, k.branch)
			}
			return nil
		})
		return err
	})
}

func (s *CartStore) List(ctx context.Context, userID int64) (*cart.Cart, error) {
	k := keysFor(userID)

	var (
		items  *redis.MapStringStringCmd
		added  *redis.MapStringStringCmd
		branch *redis.StringCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.HGetAll(ctx, k.items)
		added = pipe.HGetAll(ctx, k.added)
		branch = pipe.Get(ctx, k.branch)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading cart of user %d: %w", userID, err)
	}

	c := &cart.Cart{UserID: userID}
	if len(items.Val()) == 0 {
		return c, nil
	}
	branchID, err := branch.Int64()
	if err != nil {
		return nil, fmt.Errorf("loading cart branch of user %d: %w", userID, err)
	}
	c.BranchID = &branchID

	addedAt := added.Val()
	for field, raw := range items.Val() {
		foodID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cart of user %d has bad food id %q: %w", userID, field, err)
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cart of user %d has bad quantity %q: %w", userID, raw, err)
		}
		var at time.Time
		if ns, err := strconv.ParseInt(addedAt[field], 10, 64); err == nil {
			at = time.Unix(0, ns).UTC()
		}
		c.Lines = append(c.Lines, cart.Line{
			FoodID:   foodID,
			BranchID: branchID,
			Quantity: qty,
			AddedAt:  at,
		})
	}
	sort.Slice(c.Lines, func(i, j int) bool {
		if !c.Lines[i].AddedAt.Equal(c.Lines[j].AddedAt) {
			return c.Lines[i].AddedAt.Before(c.Lines[j].AddedAt)
		}
		return c.Lines[i].FoodID < c.Lines[j].FoodID
	})
	return c, nil
}

func (s *CartStore) Clear(ctx context.Context, userID int64) error {
	k := keysFor(userID)
	if err := s.rdb.Del(ctx, k.items, k.added, k.branch).Err(); err != nil {
		return fmt.Errorf("clearing cart of user %d: %w", userID, err)
	}
	return nil
}
