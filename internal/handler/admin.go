package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/media"
)

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	s, err := h.Dashboard.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(s, encodeStats))
}

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := h.Activity.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all("items", entries, encodeActivity))
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Coupons.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all("items", rules, encodeCoupon))
}

type couponRequest struct {
	Code         string              `json:"code"`
	Description  string              `json:"description"`
	DiscountType coupon.DiscountType `json:"discount_type"`
	Value        decimal.Decimal     `json:"value"`
	MinPurchase  decimal.Decimal     `json:"min_purchase"`
	MaxDiscount  decimal.Decimal     `json:"max_discount"`
	ValidFrom    *time.Time          `json:"valid_from"`
	ValidUntil   *time.Time          `json:"valid_until"`
	UsageLimit   int                 `json:"usage_limit"`
	Active       *bool               `json:"active"`
}

func (req *couponRequest) rule() *coupon.Rule {
	return &coupon.Rule{
		Code:         coupon.NormalizeCode(req.Code),
		Description:  req.Description,
		DiscountType: req.DiscountType,
		Value:        req.Value,
		MinPurchase:  req.MinPurchase,
		MaxDiscount:  req.MaxDiscount,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		UsageLimit:   req.UsageLimit,
		Active:       req.Active == nil || *req.Active,
	}
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := h.decode(w, r, "coupon", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rule := req.rule()
	if err := h.Coupons.Create(r.Context(), rule); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "coupon.created", rule.Code, nil)
	writeJSON(w, http.StatusCreated, one(rule, encodeCoupon))
}

// updateCoupon replaces a coupon definition. The code in the path wins over
// the body; the usage counter is left untouched.
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := h.decode(w, r, "coupon", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Code = urlParam(r, "code")
	rule := req.rule()
	if err := h.Coupons.Update(r.Context(), rule); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "coupon.updated", rule.Code, nil)
	writeJSON(w, http.StatusOK, one(rule, encodeCoupon))
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	code := coupon.NormalizeCode(urlParam(r, "code"))
	if err := h.Coupons.Delete(r.Context(), code); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "coupon.deleted", code, nil)
	noContent(w)
}

// uploadProductImage accepts a multipart form with an "image" file, stores
// it and appends its URL to the product.
func (h *Handler) uploadProductImage(w http.ResponseWriter, r *http.Request) {
	if h.Images == nil {
		h.fail(w, r, errors.New("image storage is not configured"))
		return
	}
	id := urlParam(r, "id")
	if _, err := h.Products.GetByID(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, media.ErrTooLarge)
			return
		}
		h.fail(w, r, errors.Wrap(errInvalidRequest, "multipart field \"image\" is required"))
		return
	}
	defer func() { _ = file.Close() }()

	url, err := h.Images.Upload(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Products.AddImage(r.Context(), id, url); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "product.image_added", id, map[string]any{"url": url})
	writeJSON(w, http.StatusCreated, one(p, encodeProduct))
}
