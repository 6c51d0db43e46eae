// Package paymentevents applies payment outcome events to orders.
//
// Delivery is at least once, so Handle is idempotent: the status change is a
// compare-and-set and only the caller that wins it notifies the branch.
package paymentevents

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/broker"
	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/payment"
	"github.com/xenking/foodorder/pkg/httpmiddleware"
	"github.com/xenking/foodorder/pkg/metrics"
)

// Outcome is the result of applying one event.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeOrderMissing Outcome = "order_missing"
	OutcomeRejected     Outcome = "rejected"
	OutcomeIgnored      Outcome = "ignored"
)

// OrderStore is the part of order.Repository the reducer needs.
type OrderStore interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (bool, error)
}

// Reducer moves orders forward on payment events.
type Reducer struct {
	orders   OrderStore
	notifier notify.Sender
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	lg       *zap.Logger
	now      func() time.Time
}

// NewReducer creates a Reducer.
func NewReducer(orders OrderStore, notifier notify.Sender, m *metrics.Metrics, tracer trace.Tracer, lg *zap.Logger) *Reducer {
	return &Reducer{
		orders:   orders,
		notifier: notifier,
		metrics:  m,
		tracer:   tracer,
		lg:       lg,
		now:      time.Now,
	}
}

type effect struct {
	action order.Action
	target order.Status
	notify bool
}

var effects = map[payment.EventType]effect{
	payment.EventOrderPaid:      {action: order.ActionMarkPaid, target: order.StatusPaid, notify: true},
	payment.EventOrderCODPlaced: {action: order.ActionAwaitConfirm, target: order.StatusWaitingConfirm},
}

// HandleMessage decodes a broker message and applies it. Undecodable
// payloads are reported as poison.
func (r *Reducer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	e, err := payment.ParseEvent(msg.Value)
	if err != nil {
		return broker.Poison(errors.Wrap(err, "decode payment event"))
	}
	_, err = r.Handle(ctx, e)
	return err
}

var _ broker.Handler = (*Reducer)(nil).HandleMessage

// Handle applies e. Only infrastructure failures are returned as errors;
// every other outcome acknowledges the event.
func (r *Reducer) Handle(ctx context.Context, e payment.Event) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "paymentevents.Handle", trace.WithAttributes(
		attribute.String("order_id", e.OrderID),
		attribute.String("event_type", string(e.Type)),
	))
	defer span.End()
	ctx = httpmiddleware.WithRequestID(ctx, e.ID)

	lg := r.lg.With(
		zap.String("order_id", e.OrderID),
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
	)

	outcome, err := r.apply(ctx, lg, e)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	r.metrics.PaymentEvent(string(outcome))
	return outcome, nil
}

func (r *Reducer) apply(ctx context.Context, lg *zap.Logger, e payment.Event) (Outcome, error) {
	eff, ok := effects[e.Type]
	if !ok {
		lg.Info("Ignoring unknown payment event")
		return OutcomeIgnored, nil
	}

	o, err := r.orders.Get(ctx, e.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Payment event for unknown order")
			return OutcomeOrderMissing, nil
		}
		return "", errors.Wrapf(err, "load order %s", e.OrderID)
	}
	if err := order.Authorize(order.SystemActor, o, eff.action); err != nil {
		return "", errors.Wrap(err, "authorize system actor")
	}

	to, err := order.Next(o.Status, eff.action)
	if err != nil {
		return r.settled(lg, o.Status, eff), nil
	}

	changed, err := r.orders.CompareAndSetStatus(ctx, o.ID, o.Status, to)
	if err != nil {
		return "", errors.Wrapf(err, "update order %s", o.ID)
	}
	if !changed {
		current, err := r.orders.Get(ctx, o.ID)
		if err != nil {
			return "", errors.Wrapf(err, "reload order %s", o.ID)
		}
		return r.settled(lg, current.Status, eff), nil
	}

	lg.Info("Order status changed by payment",
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)

	if eff.notify {
		r.announcePaid(ctx, lg, o)
	}
	return OutcomeApplied, nil
}

// settled classifies an event that found the order outside the source
// status of its transition.
func (r *Reducer) settled(lg *zap.Logger, current order.Status, eff effect) Outcome {
	if order.Reached(current, eff.target) {
		lg.Debug("Duplicate payment event", zap.String("status", string(current)))
		return OutcomeDuplicate
	}
	lg.Warn("Payment event rejected by order state", zap.String("status", string(current)))
	return OutcomeRejected
}

func (r *Reducer) announcePaid(ctx context.Context, lg *zap.Logger, o *order.Order) {
	msg := notify.Message{
		Kind:    notify.KindOrderPaid,
		OrderID: o.ID,
		Status:  string(order.StatusPaid),
		Text:    fmt.Sprintf("New paid order %s, total %s", o.ID, o.TotalPrice.StringFixed(0)),
		SentAt:  r.now(),
	}
	if err := r.notifier.Send(ctx, o.BranchID, msg); err != nil {
		lg.Warn("Notify branch failed", zap.Error(err))
	}
}
