// Package notify defines branch-scoped notifications.
package notify

import (
	"context"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindOrderPlaced    Kind = "order_placed"
	KindOrderPaid      Kind = "order_paid"
	KindOrderStatus    Kind = "order_status"
	KindOrderCancelled Kind = "order_cancelled"
	KindMessage        Kind = "message"
)

// Message is delivered to every listener of a branch.
type Message struct {
	Kind    Kind
	OrderID string
	Status  string
	Text    string
	SentAt  time.Time
}

// Sender pushes a message to the listeners of a branch. Delivery is best
// effort.
type Sender interface {
	Send(ctx context.Context, branchID int64, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, int64, Message) error { return nil }
