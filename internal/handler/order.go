package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/order"
)

// placeOrder checks out the caller's cart. An order whose payment could not
// be started is still created and reported with payment_pending.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), checkout.Request{
		UserID:          principal(r).UserID,
		CustomerName:    req.CustomerName,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryPhone:   req.DeliveryPhone,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
		Note:            req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckout(res))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), principal(r).Actor(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func parseFilter(r *http.Request) (order.ListFilter, error) {
	var f order.ListFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st, ok := order.ParseStatus(s)
		if !ok {
			return f, &badRequest{msg: "invalid status"}
		}
		f.Status = &st
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return f, &badRequest{msg: "invalid limit"}
		}
		f.Limit = limit
	}
	return f, nil
}

func queryID(r *http.Request, name string) (int64, bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, &badRequest{msg: "invalid " + name}
	}
	return id, true, nil
}

// listOrders lists a branch's orders for its staff, or a user's history.
// Without filters the caller's own orders are returned.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	branchID, byBranch, err := queryID(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, byUser, err := queryID(r, "user_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p := principal(r)
	var orders []order.Order
	switch {
	case byBranch:
		orders, err = h.orders.ListByBranch(r.Context(), p.Actor(), branchID, f)
	case byUser:
		orders, err = h.orders.ListByUser(r.Context(), p.Actor(), userID, f)
	default:
		orders, err = h.orders.ListByUser(r.Context(), order.Actor{Kind: order.ActorUser, UserID: p.UserID}, p.UserID, f)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrder(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	action, ok := order.ParseAction(req.Action)
	if !ok {
		h.fail(w, r, &badRequest{msg: "unknown action " + strconv.Quote(req.Action)})
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), principal(r).Actor(), chi.URLParam(r, "id"), action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	owner := order.Actor{Kind: order.ActorUser, UserID: p.UserID}

	o, err := h.orders.Cancel(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}
