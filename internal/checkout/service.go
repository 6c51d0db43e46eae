// Package checkout turns a user's cart into a durable order and starts
// payment.
//
// The order header and lines are the only transactional write. Everything
// after that commit (payment initiation, clearing the cart, notifying the
// branch) is best effort: failures are logged and surfaced on the Result,
// and the order is never rolled back. Stale PENDING orders are picked up by
// the reconciliation sweep.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/payment"
	"github.com/xenking/foodorder/pkg/metrics"
)

// OrderCreator persists a new order with its lines atomically.
type OrderCreator interface {
	Create(ctx context.Context, o *order.Order) error
}

// PaymentInitiator starts payment for a committed order.
type PaymentInitiator interface {
	Initiate(ctx context.Context, c payment.Charge) (*payment.Record, error)
}

// Guard serializes checkouts of one user. Acquire returns
// ErrCheckoutInProgress while another checkout of userID holds the guard.
type Guard interface {
	Acquire(ctx context.Context, userID int64) (release func(), err error)
}

// Config bounds the collaborator calls made during checkout.
type Config struct {
	// CollaboratorTimeout applies to each cart, pricing and coupon call.
	CollaboratorTimeout time.Duration
	// PaymentTimeout applies to payment initiation.
	PaymentTimeout time.Duration
}

// Deps are the collaborators of the Service.
type Deps struct {
	Carts    cart.Store
	Prices   catalog.Resolver
	Coupons  coupon.Validator
	Orders   OrderCreator
	Payments PaymentInitiator
	Notifier notify.Sender
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Logger   *zap.Logger

	// Guard defaults to a LocalGuard.
	Guard Guard
}

// Request is a checkout of the user's current cart.
type Request struct {
	UserID          int64
	CustomerName    string
	DeliveryAddress string
	DeliveryPhone   string
	PaymentMethod   string
	CouponCode      string
	Note            string
}

// Result describes a created order.
type Result struct {
	OrderID        string
	BranchID       int64
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalTotal     decimal.Decimal
	Status         order.Status
	// PaymentPending is set when the order exists but payment could not be
	// started. The reconciliation sweep retries it.
	PaymentPending bool
	PaymentError   string
}

// Service runs the checkout saga, one call per request.
type Service struct {
	carts    cart.Store
	prices   catalog.Resolver
	coupons  coupon.Validator
	orders   OrderCreator
	payments PaymentInitiator
	notifier notify.Sender
	guard    Guard
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	lg       *zap.Logger
	cfg      Config

	now   func() time.Time
	newID func() string
}

// NewService creates a checkout Service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Guard == nil {
		deps.Guard = NewLocalGuard()
	}
	return &Service{
		carts:    deps.Carts,
		prices:   deps.Prices,
		coupons:  deps.Coupons,
		orders:   deps.Orders,
		payments: deps.Payments,
		notifier: deps.Notifier,
		guard:    deps.Guard,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		lg:       deps.Logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Checkout converts the user's cart into a PENDING order, starts payment and
// clears the cart.
func (s *Service) Checkout(ctx context.Context, req Request) (_ *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.Int64("user_id", req.UserID)),
	)
	start := s.now()
	defer func() {
		outcome := "ok"
		switch {
		case rerr == nil:
		case IsValidation(rerr):
			outcome = "rejected"
		case IsUpstream(rerr):
			outcome = "upstream"
		case IsPersistence(rerr):
			outcome = "persistence"
		default:
			outcome = "error"
		}
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		s.metrics.ObserveCheckout(outcome, s.now().Sub(start).Seconds())
	}()

	method, err := validate(&req)
	if err != nil {
		return nil, err
	}

	// One checkout per user at a time, from reading the cart until it is
	// cleared.
	release, err := s.guard.Acquire(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrCheckoutInProgress) {
			return nil, err
		}
		return nil, &UpstreamError{Collaborator: "checkout guard", Err: err}
	}
	defer release()

	// 1. Load the cart.
	var c *cart.Cart
	if err := s.call(ctx, "cart", func(ctx context.Context) (err error) {
		c, err = s.carts.List(ctx, req.UserID)
		return err
	}); err != nil {
		return nil, err
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	// 2. Branch of the cart.
	branchID, err := cartBranch(c)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("branch_id", branchID))

	// 3. Authoritative prices.
	foodIDs := make([]int64, len(c.Lines))
	for i, l := range c.Lines {
		foodIDs[i] = l.FoodID
	}
	var prices map[int64]catalog.Price
	if err := s.call(ctx, "pricing", func(ctx context.Context) (err error) {
		prices, err = s.prices.Resolve(ctx, branchID, foodIDs)
		return err
	}); err != nil {
		return nil, err
	}

	lines := make([]order.Line, len(c.Lines))
	subtotal := decimal.Zero
	for i, l := range c.Lines {
		if err := cart.CheckQuantity(l.FoodID, l.Quantity); err != nil {
			return nil, &ValidationError{Field: "quantity", Reason: err.Error()}
		}
		p, ok := prices[l.FoodID]
		if !ok {
			return nil, &catalog.ItemUnavailableError{FoodID: l.FoodID, BranchID: branchID}
		}
		discount := catalog.ClampPercent(p.DiscountPercent)
		lines[i] = order.Line{
			FoodID:          l.FoodID,
			FoodName:        p.Name,
			UnitPrice:       p.UnitPrice,
			DiscountPercent: discount,
			Price:           catalog.DiscountedPrice(p.UnitPrice, discount),
			Quantity:        l.Quantity,
		}
		subtotal = subtotal.Add(lines[i].Total())
	}

	// 4. Coupon.
	discountAmount := decimal.Zero
	var couponCode *string
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		var pct decimal.Decimal
		if err := s.call(ctx, "coupon", func(ctx context.Context) (err error) {
			pct, err = s.coupons.Validate(ctx, code, branchID)
			return err
		}); err != nil {
			return nil, err
		}
		discountAmount = coupon.DiscountAmount(subtotal, pct)
		couponCode = &code
	}

	// 5. Final total, never negative.
	if !subtotal.IsNegative() && discountAmount.GreaterThan(subtotal) {
		discountAmount = subtotal
	}
	total := subtotal.Sub(discountAmount)

	// 6. Durability boundary.
	now := s.now()
	o := &order.Order{
		ID:              s.newID(),
		UserID:          req.UserID,
		CustomerName:    req.CustomerName,
		BranchID:        branchID,
		Lines:           lines,
		Status:          order.StatusPending,
		PaymentMethod:   method,
		CouponCode:      couponCode,
		Subtotal:        subtotal,
		DiscountAmount:  discountAmount,
		TotalPrice:      total,
		DeliveryAddress: req.DeliveryAddress,
		CustomerPhone:   req.DeliveryPhone,
		Note:            req.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, &PersistenceError{Err: err}
	}
	span.SetAttributes(attribute.String("order_id", o.ID))

	lg := s.lg.With(
		zap.String("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.Int64("branch_id", o.BranchID),
	)
	lg.Info("Order created",
		zap.String("total", total.String()),
		zap.String("payment_method", string(method)),
	)

	res := &Result{
		OrderID:        o.ID,
		BranchID:       branchID,
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		FinalTotal:     total,
		Status:         o.Status,
	}

	// The order is durable. The remaining steps must not be cut short by the
	// caller going away, each is bounded by its own timeout.
	ctx = context.WithoutCancel(ctx)

	// 7. Payment, fire and continue.
	if err := s.initiatePayment(ctx, o); err != nil {
		lg.Warn("Payment initiation failed, order left pending", zap.Error(err))
		res.PaymentPending = true
		res.PaymentError = err.Error()
	}

	// 8. Cart is cleared only after the commit above.
	if err := s.call(ctx, "cart", func(ctx context.Context) error {
		return s.carts.Clear(ctx, req.UserID)
	}); err != nil {
		lg.Warn("Clear cart failed", zap.Error(err))
	}

	// 9. Cash on delivery has no payment confirmation to wait for.
	if method == order.PaymentCOD {
		s.notifyPlaced(ctx, lg, o)
	}

	return res, nil
}

func (s *Service) initiatePayment(ctx context.Context, o *order.Order) error {
	ctx, cancel := withTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	_, err := s.payments.Initiate(ctx, payment.Charge{
		OrderID:  o.ID,
		BranchID: o.BranchID,
		Amount:   o.TotalPrice,
		Method:   string(o.PaymentMethod),
	})
	return err
}

func (s *Service) notifyPlaced(ctx context.Context, lg *zap.Logger, o *order.Order) {
	msg := notify.Message{
		Kind:    notify.KindOrderPlaced,
		OrderID: o.ID,
		Status:  string(o.Status),
		Text:    fmt.Sprintf("New cash on delivery order %s, total %s", o.ID, o.TotalPrice.StringFixed(0)),
		SentAt:  s.now(),
	}
	if err := s.notifier.Send(ctx, o.BranchID, msg); err != nil {
		lg.Warn("Notify branch failed", zap.Error(err))
	}
}

// call runs fn under the collaborator timeout. Rejections pass through;
// timeouts and other failures become *UpstreamError.
func (s *Service) call(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	ctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || IsValidation(err) {
		return err
	}
	return &UpstreamError{Collaborator: collaborator, Err: err}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func validate(req *Request) (order.PaymentMethod, error) {
	if req.UserID <= 0 {
		return "", &ValidationError{Field: "user_id", Reason: "required"}
	}
	method, ok := order.ParsePaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if !ok {
		return "", &ValidationError{Field: "payment_method", Reason: "must be COD or BANKING"}
	}
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	req.DeliveryPhone = strings.TrimSpace(req.DeliveryPhone)
	if req.DeliveryAddress == "" {
		return "", &ValidationError{Field: "delivery_address", Reason: "required"}
	}
	if req.DeliveryPhone == "" {
		return "", &ValidationError{Field: "delivery_phone", Reason: "required"}
	}
	return method, nil
}

// cartBranch returns the branch shared by every line. Carts are kept
// single-branch on insert; a mixed cart here is rejected rather than split.
func cartBranch(c *cart.Cart) (int64, error) {
	branchID := c.Lines[0].BranchID
	for _, l := range c.Lines[1:] {
		if l.BranchID != branchID {
			return 0, errors.Wrapf(cart.ErrBranchConflict, "food %d belongs to branch %d, cart to %d", l.FoodID, l.BranchID, branchID)
		}
	}
	if c.BranchID != nil && *c.BranchID != branchID {
		return 0, errors.Wrapf(cart.ErrBranchConflict, "cart branch %d does not match lines of branch %d", *c.BranchID, branchID)
	}
	return branchID, nil
}
