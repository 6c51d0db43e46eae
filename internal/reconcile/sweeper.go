// Package reconcile retries payment for orders left PENDING after checkout.
//
// Checkout commits the order before it starts payment. When the payment
// record or the event publish fails, nothing else moves the order, so the
// sweeper finds such orders and replays the missing step.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/payment"
	"github.com/xenking/foodorder/pkg/metrics"
)

// Config controls the sweep cadence.
type Config struct {
	Interval time.Duration
	// PendingAfter is how long an order may stay PENDING before it is swept.
	PendingAfter time.Duration
	BatchSize    int
}

// Orders lists orders stuck in PENDING.
type Orders interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error)
}

// Payments replays payment steps.
type Payments interface {
	Initiate(ctx context.Context, c payment.Charge) (*payment.Record, error)
	Publish(ctx context.Context, rec *payment.Record, branchID int64, t payment.EventType) error
}

// Action is what a sweep did for one order.
type Action string

const (
	ActionRepublished Action = "republished"
	ActionReinitiated Action = "reinitiated"
	ActionFailed      Action = "failed"
)

// Report summarizes one sweep.
type Report struct {
	Scanned int
	Actions map[Action]int
}

// Sweeper periodically reconciles stale orders.
type Sweeper struct {
	cfg      Config
	orders   Orders
	records  payment.Repository
	payments Payments
	metrics  *metrics.Metrics
	lg       *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg Config, orders Orders, records payment.Repository, payments Payments, m *metrics.Metrics, lg *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		cfg:      cfg,
		orders:   orders,
		records:  records,
		payments: payments,
		metrics:  m,
		lg:       lg,
		now:      time.Now,
	}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.lg.Error("Reconcile sweep failed", zap.Error(err))
				continue
			}
			if report.Scanned > 0 {
				s.lg.Info("Reconcile sweep finished",
					zap.Int("scanned", report.Scanned),
					zap.Int("republished", report.Actions[ActionRepublished]),
					zap.Int("reinitiated", report.Actions[ActionReinitiated]),
					zap.Int("failed", report.Actions[ActionFailed]),
				)
			}
		}
	}
}

// Sweep makes one pass over stale pending orders. Failures of single orders
// are counted in the report; only a failed listing is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{Actions: make(map[Action]int)}

	stale, err := s.orders.ListStalePending(ctx, s.now().Add(-s.cfg.PendingAfter), s.cfg.BatchSize)
	if err != nil {
		return report, errors.Wrap(err, "list stale orders")
	}

	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		o := &stale[i]
		report.Scanned++

		action, err := s.reconcile(ctx, o)
		if err != nil {
			action = ActionFailed
			s.lg.Warn("Reconcile order failed",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
		report.Actions[action]++
		s.metrics.Reconcile(string(action))
	}
	return report, nil
}

func (s *Sweeper) reconcile(ctx context.Context, o *order.Order) (Action, error) {
	rec, err := s.records.Latest(ctx, o.ID)
	switch {
	case errors.Is(err, payment.ErrNoRecord):
	case err != nil:
		return "", errors.Wrap(err, "latest payment")
	default:
		if t, ok := payment.EventFor(rec); ok {
			if err := s.payments.Publish(ctx, rec, o.BranchID, t); err != nil {
				return "", err
			}
			return ActionRepublished, nil
		}
	}

	if _, err := s.payments.Initiate(ctx, payment.Charge{
		OrderID:  o.ID,
		BranchID: o.BranchID,
		Amount:   o.TotalPrice,
		Method:   string(o.PaymentMethod),
	}); err != nil {
		return "", err
	}
	return ActionReinitiated, nil
}
