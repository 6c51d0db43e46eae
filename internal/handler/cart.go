package handler

import (
	"net/http"

	"github.com/xenking/foodorder/internal/domain/cart"
)

func (h *Handler) listFoods(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	foods, err := h.menu.ListByBranch(r.Context(), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]foodResponse, len(foods))
	for i, f := range foods {
		resp[i] = toFood(f)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.List(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if req.FoodID <= 0 || req.BranchID <= 0 {
		h.fail(w, r, cart.ErrInvalidReference)
		return
	}

	// The food must be sold by the branch the client claims.
	if _, err := h.menu.Resolve(r.Context(), req.BranchID, []int64{req.FoodID}); err != nil {
		h.fail(w, r, err)
		return
	}

	userID := principal(r).UserID
	if err := h.carts.AddItem(r.Context(), userID, req.FoodID, req.BranchID, qty); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.carts.List(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	foodID, err := pathID(r, "food_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req setQuantityRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	userID := principal(r).UserID
	if err := h.carts.SetQuantity(r.Context(), userID, foodID, req.Quantity); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.carts.List(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), principal(r).UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
