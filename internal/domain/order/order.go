package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusWaitingConfirm Status = "WAITING_CONFIRM"
	StatusPaid           Status = "PAID"
	StatusCooking        Status = "COOKING"
	StatusDelivering     Status = "DELIVERING"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusWaitingConfirm, StatusPaid, StatusCooking,
		StatusDelivering, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	// PaymentCOD is cash on delivery.
	PaymentCOD     PaymentMethod = "COD"
	PaymentBanking PaymentMethod = "BANKING"
)

// ParsePaymentMethod returns the PaymentMethod named by s.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(s); m {
	case PaymentCOD, PaymentBanking:
		return m, true
	}
	return "", false
}

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrentUpdate is returned when the order status changed between
	// read and write.
	ErrConcurrentUpdate = errors.New("order status changed concurrently")
)

// Order is the durable order header. Only Status changes after creation.
type Order struct {
	ID              string
	UserID          int64
	CustomerName    string
	BranchID        int64
	Lines           []Line
	Status          Status
	PaymentMethod   PaymentMethod
	CouponCode      *string
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalPrice      decimal.Decimal
	DeliveryAddress string
	CustomerPhone   string
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Line is an order line with name and prices frozen at checkout.
type Line struct {
	FoodID          int64
	FoodName        string
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	Price           decimal.Decimal
	Quantity        int
}

// Total returns Price * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status *Status
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Normalize clamps the limit into (0, 100].
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f
}

// Repository persists orders.
type Repository interface {
	// Create stores the header and lines atomically.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByBranch(ctx context.Context, branchID int64, f ListFilter) ([]Order, error)
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]Order, error)
	// CompareAndSetStatus moves the order from one status to another and
	// reports whether this call performed the change.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status) (bool, error)
	// ListStalePending returns PENDING orders created before olderThan,
	// oldest first.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Order, error)
}
