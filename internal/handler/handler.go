// Package handler exposes the coupon lifecycle over HTTP.
package handler

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
	"github.com/carrykaro/coupon-service/internal/wire"
	"github.com/carrykaro/coupon-service/pkg/httpmiddleware"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 16

// CouponService is the lifecycle engine as seen by the HTTP layer.
type CouponService interface {
	Create(ctx context.Context, ownerID int64) (*coupon.Coupon, error)
	Approve(ctx context.Context, code string, actor auth.Actor) (*coupon.Coupon, error)
	Reject(ctx context.Context, code string, actor auth.Actor) (*coupon.Coupon, error)
	Redeem(ctx context.Context, code string) (*coupon.Coupon, error)
	View(ctx context.Context, code, userAgent, sourceAddress string) (*coupon.Coupon, error)
	ListCoupons(ctx context.Context, actor auth.Actor) ([]coupon.Coupon, error)
	ScanLog(ctx context.Context, actor auth.Actor, couponID int64) ([]coupon.ScanEntry, error)
	DeleteOwnerCoupons(ctx context.Context, actor auth.Actor, ownerID int64) (int64, error)
}

// Handler serves the coupon API.
type Handler struct {
	coupons CouponService
	now     func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(coupons CouponService) *Handler {
	return &Handler{
		coupons: coupons,
		now:     time.Now,
	}
}

// Routes builds the router. API routes require a key, /scan/{code} is
// public. extra is applied to the API routes only, after authentication.
func (h *Handler) Routes(sec *SecurityHandler, extra ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())

	r.Get("/scan/{code}", h.ViewCoupon)
	r.Route("/api", func(r chi.Router) {
		r.Use(sec.Authenticate)
		for _, m := range extra {
			r.Use(m)
		}

		r.Post("/coupons", h.CreateCoupon)
		r.Get("/coupons", h.ListCoupons)
		r.Post("/coupons/{code}/approve", h.ApproveCoupon)
		r.Post("/coupons/{code}/reject", h.RejectCoupon)
		r.Post("/coupons/{code}/redeem", h.RedeemCoupon)
		r.Get("/coupons/{id}/scans", h.ScanLog)
		r.Delete("/owners/{ownerID}/coupons", h.DeleteOwnerCoupons)
	})
	return r
}

// CreateCoupon implements POST /api/coupons for the calling actor.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	c, err := h.coupons.Create(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.Coupon(c))
}

// ListCoupons implements GET /api/coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	list, err := h.coupons.ListCoupons(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Coupons(list))
}

// ApproveCoupon implements POST /api/coupons/{code}/approve.
func (h *Handler) ApproveCoupon(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.coupons.Approve)
}

// RejectCoupon implements POST /api/coupons/{code}/reject.
func (h *Handler) RejectCoupon(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.coupons.Reject)
}

func (h *Handler) review(
	w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string, auth.Actor) (*coupon.Coupon, error),
) {
	actor, _ := auth.ActorFromContext(r.Context())
	c, err := fn(r.Context(), chi.URLParam(r, "code"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Reviewed(c))
}

// RedeemCoupon implements POST /api/coupons/{code}/redeem. The body may carry
// a subtotal to price the discount against.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("request body too large"))
		return
	}
	req, err := wire.DecodeRedeemRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid subtotal"))
		return
	}

	c, err := h.coupons.Redeem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var savings *coupon.Savings
	if req.Subtotal != nil {
		s := c.Apply(*req.Subtotal)
		savings = &s
	}
	writeJSON(w, http.StatusOK, wire.Redeemed(c, savings))
}

// ScanLog implements GET /api/coupons/{id}/scans.
func (h *Handler) ScanLog(w http.ResponseWriter, r *http.Request) {
	id, err := coupon.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	entries, err := h.coupons.ScanLog(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ScanLog(entries))
}

// DeleteOwnerCoupons implements DELETE /api/owners/{ownerID}/coupons.
func (h *Handler) DeleteOwnerCoupons(w http.ResponseWriter, r *http.Request) {
	ownerID, err := coupon.ParseID(chi.URLParam(r, "ownerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	n, err := h.coupons.DeleteOwnerCoupons(r.Context(), actor, ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Deleted(n))
}

// ViewCoupon implements the public GET /scan/{code}. Every successful view is
// recorded in the scan log with the peer address of the connection.
func (h *Handler) ViewCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.View(r.Context(), chi.URLParam(r, "code"), r.UserAgent(), remoteHost(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Coupon(c))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		denied     *coupon.DeniedError
		redemption *coupon.RedemptionError
	)
	switch {
	case errors.As(err, &denied):
		retry := max(int64(math.Ceil(denied.NextAllowedAt.Sub(h.now()).Seconds())), 1)
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		writeJSON(w, http.StatusTooManyRequests, wire.Denied(denied))
	case errors.As(err, &redemption):
		writeJSON(w, http.StatusUnprocessableEntity, wire.RedeemFailed(redemption.Reason))
	case errors.Is(err, coupon.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	case errors.Is(err, coupon.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("coupon not found"))
	case errors.Is(err, coupon.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid input"))
	case errors.Is(err, coupon.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// remoteHost is the host part of the connection peer. Forwarding headers are
// client controlled and never reach the audit log.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorBody(message string) []byte {
	return wire.Error(message)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
