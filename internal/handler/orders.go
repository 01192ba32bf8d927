package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/payment"
)

const (
	webhookSignatureHeader = "X-Webhook-Signature"
	webhookEventHeader     = "X-Event-Id"
)

type placeOrderRequest struct {
	ShippingAddress order.Address       `json:"shipping_address"`
	PaymentMethod   order.PaymentMethod `json:"payment_method"`
	CouponCode      string              `json:"coupon_code"`
}

// placeOrder answers 201 with the order. When the order was stored but the
// payment provider failed, the order is still returned, with 502, so the
// client can retry the payment.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := h.decode(w, r, "place_order", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.PlaceOrder(r.Context(), principal(r).UserID, order.PlaceInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, one(o, encodeOrder))
	case errors.Is(err, order.ErrPaymentGateway) && o != nil:
		h.gatewayFailure(w, r, o, err)
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.RetryPayment(r.Context(), principal(r).UserID, urlParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, one(o, encodeOrder))
	case errors.Is(err, order.ErrPaymentGateway) && o != nil:
		h.gatewayFailure(w, r, o, err)
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) gatewayFailure(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	apiErr := h.translate(err)
	zctx.From(r.Context()).Warn("Payment gateway failure", zap.String("order_id", o.ID), zap.Error(err))
	writeJSON(w, apiErr.Status, encodeFunc(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			field(e, "code", apiErr.Code)
			field(e, "message", apiErr.Message)
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
		})
	}))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f := order.Filter{Page: page, Limit: limit}
	f.Normalize()
	items, total, err := h.Orders.ListForUser(r.Context(), principal(r).UserID, f.Page, f.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(items, total, f.Page, f.Limit, encodeOrder))
}

func (h *Handler) getMyOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetForUser(r.Context(), principal(r).UserID, urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(o, encodeOrder))
}

func (h *Handler) cancelMyOrder(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r)
}

func (h *Handler) adminCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Cancel(r.Context(), actor(r), urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(o, encodeOrder))
}

type verifyPaymentRequest struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	PaymentID       string `json:"payment_id"`
	Signature       string `json:"signature"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := h.decode(w, r, "verify_payment", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.VerifyPayment(r.Context(), principal(r).UserID, order.VerifyInput{
		OrderID:         req.OrderID,
		ProviderOrderID: req.ProviderOrderID,
		PaymentID:       req.PaymentID,
		Signature:       req.Signature,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(o, encodeOrder))
}

// paymentWebhook applies a provider event. Events for unknown or cancelled
// orders are acknowledged so that the provider stops retrying; any other
// failure answers 500 and the provider redelivers.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Webhooks == nil || !h.Webhooks.VerifyWebhook(body, r.Header.Get(webhookSignatureHeader)) {
		h.fail(w, r, errors.Wrap(errUnauthorized, "invalid webhook signature"))
		return
	}

	ev, err := payment.ParseWebhook(r.Header.Get(webhookEventHeader), body)
	if err != nil {
		h.fail(w, r, errors.Wrap(errInvalidRequest, err.Error()))
		return
	}

	lg := zctx.From(r.Context()).With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
	)
	if err := h.Orders.ApplyPaymentEvent(r.Context(), ev); err != nil {
		if !order.IsIgnorable(err) {
			h.fail(w, r, err)
			return
		}
		lg.Info("Webhook event ignored", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, encodeFunc(func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) { field(e, "status", "ok") })
	}))
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.Filter{
		Status:        order.Status(q.Get("status")),
		PaymentStatus: order.PaymentStatus(q.Get("payment_status")),
		UserID:        q.Get("user_id"),
	}
	switch f.Status {
	case "", order.StatusProcessing, order.StatusShipped, order.StatusDelivered, order.StatusCancelled:
	default:
		h.fail(w, r, errors.Wrapf(errInvalidRequest, "unknown status %q", f.Status))
		return
	}
	switch f.PaymentStatus {
	case "", order.PaymentPending, order.PaymentPaid, order.PaymentFailed:
	default:
		h.fail(w, r, errors.Wrapf(errInvalidRequest, "unknown payment status %q", f.PaymentStatus))
		return
	}
	var err error
	if f.Page, f.Limit, err = pageParams(r); err != nil {
		h.fail(w, r, err)
		return
	}
	f.Normalize()
	items, total, err := h.Orders.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(items, total, f.Page, f.Limit, encodeOrder))
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(o, encodeOrder))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status        order.Status        `json:"status"`
		PaymentStatus order.PaymentStatus `json:"payment_status"`
	}
	if err := h.decode(w, r, "order_status", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), actor(r), urlParam(r, "id"), order.StatusUpdate{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(o, encodeOrder))
}
