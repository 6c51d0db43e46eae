package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
)

var (
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutInProgress is returned while another checkout of the same
	// user is running.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// ValidationError reports a malformed checkout request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError reports a collaborator that failed or timed out. No durable
// state was created; the caller may retry.
type UpstreamError struct {
	Collaborator string
	Err          error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError reports a failed order write. The saga stopped before any
// later step ran.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err rejects the request itself: empty cart,
// branch conflict, unavailable item, invalid coupon, malformed input or a
// checkout of the same user already running.
func IsValidation(err error) bool {
	var (
		vErr *ValidationError
		iErr *catalog.ItemUnavailableError
	)
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrCheckoutInProgress) ||
		errors.Is(err, cart.ErrBranchConflict) ||
		errors.Is(err, coupon.ErrInvalidCoupon) ||
		errors.As(err, &vErr) ||
		errors.As(err, &iErr)
}

// IsUpstream reports whether err is a collaborator outage.
func IsUpstream(err error) bool {
	var uErr *UpstreamError
	return errors.As(err, &uErr)
}

// IsPersistence reports whether err is an order write failure.
func IsPersistence(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}
