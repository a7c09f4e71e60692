package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/model"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/voucher"
)

// SessionHeader carries the guest session id for anonymous carts.
const SessionHeader = obs.SessionHeader

// Handler wires cart services to HTTP.
type Handler struct {
	Svc    *Service
	Logger *zerolog.Logger
}

type itemPayload struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=999"`
}

type qtyPayload struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=999"`
}

type adjustmentPayload struct {
	Name  string  `json:"name" validate:"required,max=120"`
	Value float64 `json:"value"`
	Type  string  `json:"type" validate:"omitempty,oneof=charge discount tax shipping fee"`
}

type voucherPayload struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Ensure)
	r.Post("/merge", h.Merge)
	r.Get("/{code}", h.Get)
	r.Delete("/{code}", h.Delete)
	r.Post("/{code}/items", h.AddItem)
	r.Patch("/{code}/items/{productId}", h.UpdateQty)
	r.Delete("/{code}/items/{productId}", h.RemoveItem)
	r.Put("/{code}/adjustments", h.SetAdjustment)
	r.Delete("/{code}/adjustments/{name}", h.RemoveAdjustment)
	r.Post("/{code}/recalculate", h.Recalculate)
	r.Delete("/{code}/voucher/{voucherCode}", h.RemoveVoucher)
}

// VoucherRoute mounts the voucher apply endpoint separately so it can carry its own throttle.
func (h *Handler) VoucherRoute(r chi.Router) {
	r.Post("/{code}/voucher", h.ApplyVoucher)
}

// OwnerFromRequest resolves the cart owner: the authenticated user when
// present, otherwise the guest session header.
func OwnerFromRequest(r *http.Request) (model.Owner, bool) {
	if id, ok := common.UserID(r.Context()); ok && strings.TrimSpace(id) != "" {
		return model.UserOwner(id), true
	}
	if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" {
		return model.GuestOwner(session), true
	}
	return model.Owner{}, false
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (model.Owner, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return model.Owner{}, false
	}
	owner, ok := OwnerFromRequest(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "login or "+SessionHeader+" header required", nil)
		return model.Owner{}, false
	}
	return owner, true
}

// Ensure returns or creates the caller's cart.
func (h *Handler) Ensure(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Ensure(r.Context(), owner)
	h.respond(w, http.StatusCreated, c, err)
}

// Get returns cart contents and pricing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Get(r.Context(), owner, chi.URLParam(r, "code"))
	h.respond(w, http.StatusOK, c, err)
}

// AddItem adds a product line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var payload itemPayload
	if !decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.AddItem(r.Context(), owner, chi.URLParam(r, "code"), payload.ProductID, payload.Quantity)
	h.respond(w, http.StatusOK, c, err)
}

// UpdateQty changes a line quantity.
func (h *Handler) UpdateQty(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var payload qtyPayload
	if !decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.UpdateQty(r.Context(), owner, chi.URLParam(r, "code"), chi.URLParam(r, "productId"), payload.Quantity)
	h.respond(w, http.StatusOK, c, err)
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.RemoveItem(r.Context(), owner, chi.URLParam(r, "code"), chi.URLParam(r, "productId"))
	h.respond(w, http.StatusOK, c, err)
}

// SetAdjustment upserts a manual adjustment.
func (h *Handler) SetAdjustment(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var payload adjustmentPayload
	if !decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.SetAdjustment(r.Context(), owner, chi.URLParam(r, "code"), model.Adjustment{
		Name:  payload.Name,
		Value: payload.Value,
		Type:  model.AdjustmentType(payload.Type),
	})
	h.respond(w, http.StatusOK, c, err)
}

// RemoveAdjustment drops a manual adjustment.
func (h *Handler) RemoveAdjustment(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.RemoveAdjustment(r.Context(), owner, chi.URLParam(r, "code"), chi.URLParam(r, "name"))
	h.respond(w, http.StatusOK, c, err)
}

// ApplyVoucher applies a voucher code.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var payload voucherPayload
	if !decode(w, r, &payload) {
		return
	}
	res, err := h.Svc.ApplyVoucher(r.Context(), owner, chi.URLParam(r, "code"), payload.Code)
	h.respondVoucher(w, res, err)
}

// RemoveVoucher removes a voucher code.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.RemoveVoucher(r.Context(), owner, chi.URLParam(r, "code"), chi.URLParam(r, "voucherCode"))
	h.respondVoucher(w, res, err)
}

// Recalculate reprices the cart.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Recalculate(r.Context(), owner, chi.URLParam(r, "code"))
	h.respond(w, http.StatusOK, c, err)
}

// Merge folds the guest session cart into the authenticated user's cart.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	session := strings.TrimSpace(r.Header.Get(SessionHeader))
	if !ok || userID == "" || session == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "login and "+SessionHeader+" header required", nil)
		return
	}
	c, err := h.Svc.Merge(r.Context(), model.GuestOwner(session), model.UserOwner(userID))
	h.respond(w, http.StatusOK, c, err)
}

// Delete removes the cart.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), owner, chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := common.DecodeJSON(r, dst); err != nil {
		common.WriteAppError(w, err)
		return false
	}
	if err := common.ValidateStruct(dst); err != nil {
		common.WriteAppError(w, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, c *model.Cart, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, status, map[string]any{"data": c})
}

func (h *Handler) respondVoucher(w http.ResponseWriter, res voucher.Result, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.Success {
		status := http.StatusUnprocessableEntity
		code := "VOUCHER_REJECTED"
		switch {
		case errors.Is(res.Err, voucher.ErrNotFound):
			status, code = http.StatusNotFound, "VOUCHER_NOT_FOUND"
		case errors.Is(res.Err, voucher.ErrAlreadyApplied), errors.Is(res.Err, voucher.ErrAnotherVoucher):
			status, code = http.StatusConflict, "VOUCHER_CONFLICT"
		case errors.Is(res.Err, voucher.ErrNotApplied):
			status, code = http.StatusNotFound, "VOUCHER_NOT_APPLIED"
		}
		common.JSONError(w, status, code, res.Message, nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"message":         res.Message,
			"discount":        res.Discount,
			"totalDifference": res.TotalDifference,
			"cart":            res.Cart,
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart item not found", nil)
	case errors.Is(err, ErrAdjustmentNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "adjustment not found", nil)
	case errors.Is(err, ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CART_BUSY", "cart is being updated, retry shortly", nil)
	default:
		if h.Logger != nil {
			h.Logger.Error().Err(err).Msg("cart request failed")
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart", nil)
	}
}
