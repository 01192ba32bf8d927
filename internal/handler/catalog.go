package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/auth"
	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/category"
	"github.com/xenking/storefront/internal/domain/product"
)

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Categories.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all("items", cats, encodeCategory))
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.Categories.GetByID(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(c, encodeCategory))
}

type categoryRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := h.decode(w, r, "category", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c := &category.Category{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	}
	if err := h.Categories.Create(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "category.created", c.ID, map[string]any{"name": c.Name})
	writeJSON(w, http.StatusCreated, one(c, encodeCategory))
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := h.decode(w, r, "category", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c := &category.Category{
		ID:          urlParam(r, "id"),
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	}
	if err := h.Categories.Update(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "category.updated", c.ID, nil)
	writeJSON(w, http.StatusOK, one(c, encodeCategory))
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Categories.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "category.deleted", id, nil)
	noContent(w)
}

// productFilter reads the catalog query string. The storefront only ever
// sees active products; admins may filter with ?active=.
func productFilter(r *http.Request, admin bool) (product.Filter, error) {
	q := r.URL.Query()
	f := product.Filter{
		CategoryID: q.Get("category"),
		Search:     strings.TrimSpace(q.Get("search")),
		Sort:       product.Sort(q.Get("sort")),
		ActiveOnly: !admin,
	}

	var err error
	if f.Page, f.Limit, err = pageParams(r); err != nil {
		return f, err
	}
	if f.MinPrice, err = priceParam(r, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = priceParam(r, "max_price"); err != nil {
		return f, err
	}
	if f.MinPrice.Valid && f.MaxPrice.Valid && f.MinPrice.Decimal.GreaterThan(f.MaxPrice.Decimal) {
		return f, errors.Wrap(errInvalidRequest, "min_price is greater than max_price")
	}
	if admin {
		active, set, err := boolParam(r, "active")
		if err != nil {
			return f, err
		}
		f.ActiveOnly = set && active
	}
	f.Normalize()
	return f, nil
}

func priceParam(r *http.Request, name string) (decimal.NullDecimal, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}, errors.Wrapf(errInvalidRequest, "%s must be a non-negative number", name)
	}
	return decimal.NewNullDecimal(d), nil
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	h.serveProducts(w, r, false)
}

func (h *Handler) adminListProducts(w http.ResponseWriter, r *http.Request) {
	h.serveProducts(w, r, true)
}

func (h *Handler) serveProducts(w http.ResponseWriter, r *http.Request, admin bool) {
	f, err := productFilter(r, admin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, total, err := h.Products.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(items, total, f.Page, f.Limit, encodeProduct))
}

// getProduct hides inactive products from the storefront.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), urlParam(r, "id"))
	if err == nil && !p.IsActive {
		err = product.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(p, encodeProduct))
}

func (h *Handler) adminGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(p, encodeProduct))
}

type productRequest struct {
	CategoryID    string          `json:"category_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	DiscountPrice decimal.Decimal `json:"discount_price"`
	Stock         int             `json:"stock"`
	Sizes         []string        `json:"sizes"`
	Colors        []string        `json:"colors"`
	Images        []string        `json:"images"`
	IsActive      *bool           `json:"is_active"`
}

// apply copies the request onto p. Images are kept when the request omits
// them since they are usually added through the upload endpoint.
func (req *productRequest) apply(p *product.Product) {
	p.CategoryID = req.CategoryID
	p.Name = strings.TrimSpace(req.Name)
	p.Description = req.Description
	p.Price = req.Price
	p.DiscountPrice = req.DiscountPrice
	p.Stock = req.Stock
	p.Sizes = req.Sizes
	p.Colors = req.Colors
	if req.Images != nil {
		p.Images = req.Images
	}
	p.IsActive = req.IsActive == nil || *req.IsActive
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(w, r, "product", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := &product.Product{ID: uuid.NewString()}
	req.apply(p)
	if err := h.Products.Create(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "product.created", p.ID, map[string]any{"name": p.Name, "stock": p.Stock})
	writeJSON(w, http.StatusCreated, one(p, encodeProduct))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(w, r, "product", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	before := p.Stock
	req.apply(p)
	if err := h.Products.Update(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "product.updated", p.ID, map[string]any{"stock_before": before, "stock": p.Stock})
	writeJSON(w, http.StatusOK, one(p, encodeProduct))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Products.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.audit(r, "product.deleted", id, nil)
	noContent(w)
}

// audit records an admin action on subject.
func (h *Handler) audit(r *http.Request, action, subject string, details map[string]any) {
	p, _ := auth.PrincipalFrom(r.Context())
	h.Audit.Record(r.Context(), activity.Entry{
		ActorID:   p.UserID,
		ActorKind: activity.ActorAdmin,
		Action:    action,
		Subject:   subject,
		Details:   details,
	})
}
