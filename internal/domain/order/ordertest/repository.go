// Package ordertest provides an in-memory order.Repository for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/foodorder/internal/domain/order"
)

var _ order.Repository = (*Repository)(nil)

// Repository has the same compare-and-set semantics as the PostgreSQL
// implementation.
type Repository struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{orders: make(map[string]*order.Order)}
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Lines = append([]order.Line(nil), o.Lines...)
	if o.CouponCode != nil {
		code := *o.CouponCode
		c.CouponCode = &code
	}
	return &c
}

func (r *Repository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *Repository) list(match func(*order.Order) bool, f order.ListFilter) []order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []order.Order
	for _, o := range r.orders {
		if !match(o) {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (r *Repository) ListByBranch(_ context.Context, branchID int64, f order.ListFilter) ([]order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.BranchID == branchID }, f), nil
}

func (r *Repository) ListByUser(_ context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.UserID == userID }, f), nil
}

func (r *Repository) CompareAndSetStatus(_ context.Context, id string, from, to order.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []order.Order
	for _, o := range r.orders {
		if o.Status == order.StatusPending && o.CreatedAt.Before(olderThan) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
