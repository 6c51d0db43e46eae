package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stage names the initiation step that failed.
type Stage string

const (
	StageGateway Stage = "gateway"
	StageRecord  Stage = "record"
	StagePublish Stage = "publish"
)

// InitiationError reports a failed payment initiation. The order it belongs
// to stays PENDING.
type InitiationError struct {
	OrderID string
	Stage   Stage
	Err     error
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("initiate payment for order %s: %s: %v", e.OrderID, e.Stage, e.Err)
}

func (e *InitiationError) Unwrap() error { return e.Err }

// Charge is a request to start payment of an order.
type Charge struct {
	OrderID  string
	BranchID int64
	Amount   decimal.Decimal
	// Method is "COD" or "BANKING".
	Method string
}

// Initiator records payment attempts and publishes their outcome.
type Initiator struct {
	gateway   Gateway
	records   Repository
	publisher Publisher
	lg        *zap.Logger
	now       func() time.Time
}

// NewInitiator creates an Initiator.
func NewInitiator(gateway Gateway, records Repository, publisher Publisher, lg *zap.Logger) *Initiator {
	return &Initiator{
		gateway:   gateway,
		records:   records,
		publisher: publisher,
		lg:        lg,
		now:       time.Now,
	}
}

// Initiate charges banking orders through the gateway, appends a payment
// record and publishes the matching event. Cash on delivery skips the
// gateway.
func (i *Initiator) Initiate(ctx context.Context, c Charge) (*Record, error) {
	rec := &Record{
		OrderID:   c.OrderID,
		Amount:    c.Amount,
		Method:    c.Method,
		CreatedAt: i.now(),
	}
	eventType := EventOrderPaid

	if c.Method == "COD" {
		rec.TransactionID = "cod-" + uuid.New().String()
		rec.Status = RecordCODPending
		eventType = EventOrderCODPlaced
	} else {
		txID, err := i.gateway.Charge(ctx, c.OrderID, c.Amount)
		if err != nil {
			return nil, &InitiationError{OrderID: c.OrderID, Stage: StageGateway, Err: err}
		}
		rec.TransactionID = txID
		rec.Status = RecordSuccess
	}

	if err := i.records.Append(ctx, rec); err != nil {
		return nil, &InitiationError{OrderID: c.OrderID, Stage: StageRecord, Err: err}
	}

	if err := i.Publish(ctx, rec, c.BranchID, eventType); err != nil {
		return rec, err
	}

	i.lg.Info("Payment initiated",
		zap.String("order_id", c.OrderID),
		zap.String("transaction_id", rec.TransactionID),
		zap.String("status", string(rec.Status)),
	)
	return rec, nil
}

// Publish emits the event for an existing record.
func (i *Initiator) Publish(ctx context.Context, rec *Record, branchID int64, t EventType) error {
	e := Event{
		ID:            uuid.New().String(),
		Type:          t,
		OrderID:       rec.OrderID,
		BranchID:      branchID,
		Amount:        rec.Amount,
		TransactionID: rec.TransactionID,
		OccurredAt:    i.now(),
	}
	if err := i.publisher.Publish(ctx, e); err != nil {
		return &InitiationError{OrderID: rec.OrderID, Stage: StagePublish, Err: err}
	}
	return nil
}

// EventFor returns the event type that announces rec.
func EventFor(rec *Record) (EventType, bool) {
	switch rec.Status {
	case RecordSuccess:
		return EventOrderPaid, true
	case RecordCODPending:
		return EventOrderCODPlaced, true
	}
	return "", false
}
