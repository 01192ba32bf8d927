package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/cart"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(c, encodeCart))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), principal(r).UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	noContent(w)
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := h.decode(w, r, "cart_item", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Carts.AddItem(r.Context(), principal(r).UserID, cart.AddInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(c, encodeCart))
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := h.decode(w, r, "cart_quantity", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Carts.UpdateItem(r.Context(), principal(r).UserID, urlParam(r, "itemID"), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(c, encodeCart))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.RemoveItem(r.Context(), principal(r).UserID, urlParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(c, encodeCart))
}

// validateCoupon previews a coupon against the caller's cart subtotal.
// Nothing is redeemed until the order is placed.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := h.decode(w, r, "coupon_code", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Carts.Get(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if c.IsEmpty() {
		h.fail(w, r, cart.ErrEmpty)
		return
	}
	d, err := h.Preview.Preview(r.Context(), req.Code, c.Totals().Subtotal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(d, encodeDiscount))
}
