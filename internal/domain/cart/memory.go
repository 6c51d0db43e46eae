package cart

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Each user has its own mutex so
// concurrent mutations of one cart are serialized while different users do
// not contend.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[int64]*memoryCart
	now   func() time.Time
}

type memoryCart struct {
	mu     sync.Mutex
	branch *int64
	lines  map[int64]*Line
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts: make(map[int64]*memoryCart),
		now:   time.Now,
	}
}

// cart returns the cart of userID, creating it for writers.
func (s *MemoryStore) cart(userID int64) *memoryCart {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		c = &memoryCart{lines: make(map[int64]*Line)}
		s.carts[userID] = c
	}
	return c
}

// lookup returns the cart of userID or nil. Reads never allocate a cart.
func (s *MemoryStore) lookup(userID int64) *memoryCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[userID]
}

func (s *MemoryStore) AddItem(_ context.Context, userID, foodID, branchID int64, qty int) error {
	if err := CheckQuantity(foodID, qty); err != nil {
		return err
	}

	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.branch != nil && len(c.lines) > 0 && *c.branch != branchID {
		return ErrBranchConflict
	}
	if l, ok := c.lines[foodID]; ok {
		if err := CheckAccumulated(foodID, l.Quantity, qty); err != nil {
			return err
		}
		l.Quantity += qty
		return nil
	}

	b := branchID
	c.branch = &b
	c.lines[foodID] = &Line{
		FoodID:   foodID,
		BranchID: branchID,
		Quantity: qty,
		AddedAt:  s.now(),
	}
	return nil
}

func (s *MemoryStore) SetQuantity(_ context.Context, userID, foodID int64, qty int) error {
	if qty > MaxQuantity {
		return &InvalidQuantityError{FoodID: foodID, Quantity: qty}
	}
	c := s.lookup(userID)
	if c == nil {
		if qty <= 0 {
			return nil
		}
		return ErrLineNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lines[foodID]
	if !ok {
		if qty <= 0 {
			return nil
		}
		return ErrLineNotFound
	}
	if qty > 0 {
		l.Quantity = qty
		return nil
	}

	delete(c.lines, foodID)
	if len(c.lines) == 0 {
		c.branch = nil
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID int64) (*Cart, error) {
	c := s.lookup(userID)
	if c == nil {
		return &Cart{UserID: userID, Lines: []Line{}}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := &Cart{UserID: userID, Lines: make([]Line, 0, len(c.lines))}
	if c.branch != nil && len(c.lines) > 0 {
		b := *c.branch
		out.BranchID = &b
	}
	for _, l := range c.lines {
		out.Lines = append(out.Lines, *l)
	}
	sort.Slice(out.Lines, func(i, j int) bool {
		return out.Lines[i].AddedAt.Before(out.Lines[j].AddedAt) ||
			(out.Lines[i].AddedAt.Equal(out.Lines[j].AddedAt) && out.Lines[i].FoodID < out.Lines[j].FoodID)
	})
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID int64) error {
	c := s.lookup(userID)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = make(map[int64]*Line)
	c.branch = nil
	return nil
}
