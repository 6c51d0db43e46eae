package checkout

import (
	"context"
	"sync"
)

var _ Guard = (*LocalGuard)(nil)

// LocalGuard serializes checkouts within one process.
type LocalGuard struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

// NewLocalGuard returns an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[int64]struct{})}
}

// Acquire claims userID without waiting.
func (g *LocalGuard) Acquire(_ context.Context, userID int64) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[userID]; busy {
		return nil, ErrCheckoutInProgress
	}
	g.active[userID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, userID)
			g.mu.Unlock()
		})
	}, nil
}
