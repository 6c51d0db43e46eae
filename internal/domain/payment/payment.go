// Package payment records payment attempts and emits payment outcome events.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RecordStatus is the outcome stored on a payment record.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "SUCCESS"
	// RecordCODPending marks cash on delivery collected by the courier.
	RecordCODPending RecordStatus = "COD_PENDING"
	RecordFailed     RecordStatus = "FAILED"
)

// Record is one append-only payment attempt. The latest record of an order is
// authoritative.
type Record struct {
	ID            int64
	OrderID       string
	Amount        decimal.Decimal
	TransactionID string
	Method        string
	Status        RecordStatus
	CreatedAt     time.Time
}

// EventType names a payment outcome.
type EventType string

const (
	EventOrderPaid      EventType = "ORDER_PAID"
	EventOrderCODPlaced EventType = "ORDER_COD_PLACED"
)

// Event is published on the payment outcome stream keyed by OrderID.
type Event struct {
	ID            string
	Type          EventType
	OrderID       string
	BranchID      int64
	Amount        decimal.Decimal
	TransactionID string
	OccurredAt    time.Time
}

// ErrNoRecord is returned when an order has no payment record.
var ErrNoRecord = errors.New("no payment record")

// Repository persists payment records.
type Repository interface {
	Append(ctx context.Context, r *Record) error
	Latest(ctx context.Context, orderID string) (*Record, error)
}

// Publisher emits payment events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Gateway charges a customer. Only a stub exists.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal) (transactionID string, err error)
}
