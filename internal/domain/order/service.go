package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/domain/notify"
)

// Service exposes order reads and actor-driven status changes.
type Service struct {
	orders   Repository
	notifier notify.Sender
	lg       *zap.Logger
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, notifier notify.Sender, lg *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		notifier: notifier,
		lg:       lg,
		now:      time.Now,
	}
}

// Get returns an order visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListByBranch returns the newest orders of a branch for its staff.
func (s *Service) ListByBranch(ctx context.Context, actor Actor, branchID int64, f ListFilter) ([]Order, error) {
	if actor.Kind != ActorSystem && (actor.Kind != ActorStaff || actor.BranchID != branchID) {
		return nil, ErrForbidden
	}
	orders, err := s.orders.ListByBranch(ctx, branchID, f.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list orders of branch %d: %w", branchID, err)
	}
	return orders, nil
}

// ListByUser returns the order history of a user.
func (s *Service) ListByUser(ctx context.Context, actor Actor, userID int64, f ListFilter) ([]Order, error) {
	if actor.Kind != ActorSystem && (actor.Kind != ActorUser || actor.UserID != userID) {
		return nil, ErrForbidden
	}
	orders, err := s.orders.ListByUser(ctx, userID, f.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list orders of user %d: %w", userID, err)
	}
	return orders, nil
}

// UpdateStatus applies action on behalf of actor.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, action Action) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, o, action); err != nil {
		return nil, err
	}

	to, err := Next(o.Status, action)
	if err != nil {
		return nil, err
	}

	changed, err := s.orders.CompareAndSetStatus(ctx, id, o.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update status of order %s: %w", id, err)
	}
	if !changed {
		return nil, ErrConcurrentUpdate
	}

	s.lg.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
		zap.String("actor", string(actor.Kind)),
	)
	o.Status = to
	o.UpdatedAt = s.now()

	s.announce(ctx, o, action)
	return o, nil
}

// Cancel cancels an order on behalf of its owner.
func (s *Service) Cancel(ctx context.Context, actor Actor, id string) (*Order, error) {
	return s.UpdateStatus(ctx, actor, id, ActionCancel)
}

func (s *Service) announce(ctx context.Context, o *Order, action Action) {
	msg := notify.Message{
		Kind:    notify.KindOrderStatus,
		OrderID: o.ID,
		Status:  string(o.Status),
		Text:    fmt.Sprintf("Order %s is now %s", o.ID, o.Status),
		SentAt:  s.now(),
	}
	if action == ActionCancel {
		msg.Kind = notify.KindOrderCancelled
		msg.Text = fmt.Sprintf("Order %s was cancelled by the customer", o.ID)
	}
	if err := s.notifier.Send(ctx, o.BranchID, msg); err != nil {
		s.lg.Warn("Notify branch failed",
			zap.String("order_id", o.ID),
			zap.Int64("branch_id", o.BranchID),
			zap.Error(err),
		)
	}
}
