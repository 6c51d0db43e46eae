package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/domain/order"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Code: code, Message: message})
}

// badRequest marks malformed input detected by the handler itself.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &badRequest{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &badRequest{msg: "invalid " + name}
	}
	return id, nil
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) (int, string) {
	var (
		badReq    *badRequest
		validErr  *checkout.ValidationError
		qtyErr    *cart.InvalidQuantityError
		itemErr   *catalog.ItemUnavailableError
		upstream  *checkout.UpstreamError
		persisted *checkout.PersistenceError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, badReq.msg
	case errors.As(err, &validErr):
		return http.StatusBadRequest, validErr.Error()
	case errors.As(err, &qtyErr):
		return http.StatusBadRequest, qtyErr.Error()
	case errors.Is(err, cart.ErrInvalidReference):
		return http.StatusBadRequest, cart.ErrInvalidReference.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden, order.ErrForbidden.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound, cart.ErrLineNotFound.Error()
	case errors.Is(err, cart.ErrBranchConflict):
		return http.StatusConflict, cart.ErrBranchConflict.Error()
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrConcurrentUpdate):
		return http.StatusConflict, order.ErrConcurrentUpdate.Error()
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		return http.StatusConflict, checkout.ErrCheckoutInProgress.Error()
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity, checkout.ErrEmptyCart.Error()
	case errors.As(err, &itemErr):
		return http.StatusUnprocessableEntity, itemErr.Error()
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return http.StatusUnprocessableEntity, "invalid coupon code"
	case errors.As(err, &upstream):
		return http.StatusServiceUnavailable, upstream.Collaborator + " unavailable, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timed out, retry later"
	case errors.As(err, &persisted):
		return http.StatusInternalServerError, "order could not be saved"
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", code),
			zap.Error(err),
		)
	}
	writeError(w, code, msg)
}
