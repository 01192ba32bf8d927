package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/auth"
	"github.com/xenking/storefront/internal/domain/activity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// authenticate requires an access token of the given kind.
func (h *Handler) authenticate(kind auth.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				h.fail(w, r, errUnauthorized)
				return
			}
			claims, err := h.Tokens.Parse(token, kind, auth.UseAccess)
			if err != nil {
				h.fail(w, r, err)
				return
			}

			p := auth.Principal{UserID: claims.Subject, Kind: claims.Kind, Role: claims.Role}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = zctx.With(ctx, zap.String("user_id", p.UserID))
			httpmiddleware.Annotate(ctx, zap.String("user_id", p.UserID), zap.String("token_kind", string(p.Kind)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// principal returns the authenticated caller. Routes using it are always
// behind authenticate.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func actor(r *http.Request) order.Actor {
	p := principal(r)
	kind := activity.ActorUser
	if p.IsAdmin() {
		kind = activity.ActorAdmin
	}
	return order.Actor{ID: p.UserID, Kind: kind}
}

type credentials struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := h.decode(w, r, "register", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Accounts.Register(r.Context(), user.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.Record(r.Context(), activity.Entry{
		ActorID:   s.User.ID,
		ActorKind: activity.ActorUser,
		Action:    "user.registered",
		Subject:   s.User.ID,
	})
	writeJSON(w, http.StatusCreated, one(s, encodeSession))
}

func (h *Handler) login(kind auth.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := h.decode(w, r, "login", &req); err != nil {
			h.fail(w, r, err)
			return
		}
		s, err := h.Accounts.Login(r.Context(), req.Email, req.Password, kind)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if kind == auth.KindAdmin {
			h.Audit.Record(r.Context(), activity.Entry{
				ActorID:   s.User.ID,
				ActorKind: activity.ActorAdmin,
				Action:    "admin.login",
				Subject:   s.User.ID,
			})
		}
		writeJSON(w, http.StatusOK, one(s, encodeSession))
	}
}

func (h *Handler) refresh(kind auth.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := h.decode(w, r, "refresh", &req); err != nil {
			h.fail(w, r, err)
			return
		}
		s, err := h.Accounts.Refresh(r.Context(), req.RefreshToken, kind)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, one(s, encodeSession))
	}
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Accounts.Me(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, one(u, encodeUser))
}
