package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/category"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/media"
)

var (
	errUnauthorized     = errors.New("missing or malformed bearer token")
	errForbidden        = errors.New("access denied")
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errInvalidRequest   = errors.New("invalid request")
)

// apiError is a translated error ready to be written to the client.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("code", func(enc *jx.Encoder) { enc.Str(e.Code) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.Message) })
	})
}

type errorClass struct {
	status int
	code   string
}

var (
	classInvalid     = errorClass{http.StatusBadRequest, "invalid_request"}
	classUnauth      = errorClass{http.StatusUnauthorized, "unauthorized"}
	classForbidden   = errorClass{http.StatusForbidden, "forbidden"}
	classNotFound    = errorClass{http.StatusNotFound, "not_found"}
	classNotAllowed  = errorClass{http.StatusMethodNotAllowed, "method_not_allowed"}
	classConflict    = errorClass{http.StatusConflict, "conflict"}
	classTooLarge    = errorClass{http.StatusRequestEntityTooLarge, "payload_too_large"}
	classUnprocessed = errorClass{http.StatusUnprocessableEntity, "unprocessable"}
	classGateway     = errorClass{http.StatusBadGateway, "payment_gateway"}
)

// sentinels maps domain sentinel errors to their class. Order matters only
// for errors that wrap more than one sentinel.
var sentinels = []struct {
	err   error
	class errorClass
}{
	{errInvalidRequest, classInvalid},
	{user.ErrInvalidInput, classInvalid},
	{product.ErrInvalidProduct, classInvalid},
	{category.ErrInvalid, classInvalid},
	{coupon.ErrInvalidRule, classInvalid},
	{cart.ErrInvalidQuantity, classInvalid},
	{order.ErrInvalidAddress, classInvalid},
	{order.ErrInvalidPaymentMethod, classInvalid},
	{order.ErrInvalidStatus, classInvalid},
	{order.ErrInvalidSignature, classInvalid},
	{media.ErrUnsupportedType, classInvalid},
	{media.ErrEmpty, classInvalid},
	{media.ErrTooLarge, classTooLarge},

	{errUnauthorized, classUnauth},
	{auth.ErrInvalidToken, classUnauth},
	{user.ErrInvalidCredentials, classUnauth},

	{errForbidden, classForbidden},
	{user.ErrForbidden, classForbidden},

	{errRouteNotFound, classNotFound},
	{user.ErrNotFound, classNotFound},
	{product.ErrNotFound, classNotFound},
	{category.ErrNotFound, classNotFound},
	{coupon.ErrNotFound, classNotFound},
	{order.ErrNotFound, classNotFound},
	{cart.ErrItemNotFound, classNotFound},

	{errMethodNotAllowed, classNotAllowed},

	{user.ErrDuplicateEmail, classConflict},
	{product.ErrDuplicate, classConflict},
	{category.ErrDuplicate, classConflict},
	{category.ErrInUse, classConflict},
	{coupon.ErrDuplicate, classConflict},

	{coupon.ErrInvalidCoupon, classUnprocessed},
	{coupon.ErrCouponExpired, classUnprocessed},
	{coupon.ErrCouponUsageLimitReached, classUnprocessed},
	{cart.ErrInvalidVariant, classUnprocessed},
	{cart.ErrEmpty, classUnprocessed},
	{order.ErrOrderCancelled, classUnprocessed},
	{order.ErrNotPayable, classUnprocessed},
	{order.ErrUnpaid, classUnprocessed},
	{order.ErrPaymentMismatch, classUnprocessed},

	{order.ErrPaymentGateway, classGateway},
}

// translate maps err to the response the client gets. Unknown errors are
// internal; their message is hidden in production.
func (h *Handler) translate(err error) *apiError {
	var (
		stock       *product.InsufficientStockError
		unavailable *product.UnavailableError
		transition  *order.InvalidTransitionError
		minimum     *coupon.MinimumPurchaseError
		tooBig      *http.MaxBytesError
	)
	switch {
	case errors.As(err, &stock), errors.As(err, &unavailable),
		errors.As(err, &transition), errors.As(err, &minimum):
		return &apiError{Status: classUnprocessed.status, Code: classUnprocessed.code, Message: err.Error()}
	case errors.As(err, &tooBig):
		return &apiError{Status: classTooLarge.status, Code: classTooLarge.code, Message: "request body is too large"}
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &apiError{Status: s.class.status, Code: s.class.code, Message: err.Error()}
		}
	}

	msg := err.Error()
	if h.cfg.Production {
		msg = "internal server error"
	}
	return &apiError{Status: http.StatusInternalServerError, Code: "internal", Message: msg}
}

// fail writes the translated error. Server errors are logged with the cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := h.translate(err)
	lg := zctx.From(r.Context())
	switch {
	case apiErr.Status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", apiErr.Status), zap.Error(err))
	case apiErr.Status != http.StatusNotFound:
		lg.Debug("Request rejected", zap.Int("status", apiErr.Status), zap.Error(err))
	}
	writeJSON(w, apiErr.Status, apiErr)
}
