package voucher

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/model"
)

// Handler exposes administrative voucher management endpoints.
type Handler struct {
	Store  Store
	Logger *zerolog.Logger
}

type voucherPayload struct {
	Code          string  `json:"code" validate:"required,max=64"`
	Type          string  `json:"type" validate:"required,oneof=promotion single-user limited-uses"`
	StartDate     *string `json:"startDate" validate:"required_if=Type promotion,omitempty,datetime=2006-01-02"`
	EndDate       *string `json:"endDate" validate:"required_if=Type promotion,omitempty,datetime=2006-01-02"`
	RemainingUses int     `json:"remainingUses" validate:"gte=0"`
	Method        string  `json:"method" validate:"required,oneof=fixed discounted"`
	Value         float64 `json:"value" validate:"gte=0"`
	Capped        bool    `json:"capped"`
	CapAmount     float64 `json:"capAmount" validate:"gte=0"`
}

func (p voucherPayload) toModel() model.Voucher {
	return model.Voucher{
		Code:          strings.TrimSpace(p.Code),
		Type:          model.VoucherType(p.Type),
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		RemainingUses: p.RemainingUses,
		Method:        model.VoucherMethod(p.Method),
		Value:         p.Value,
		Capped:        p.Capped,
		CapAmount:     p.CapAmount,
	}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{code}", h.Get)
	r.Put("/{code}", h.Update)
	r.Delete("/{code}", h.Delete)
}

// Create inserts a new voucher.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	v, ok := h.decode(w, r)
	if !ok {
		return
	}
	created, err := h.Store.Create(r.Context(), v)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Get returns a voucher by code.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	v, err := h.Store.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Update replaces a voucher. The path code wins over the payload code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	v, ok := h.decode(w, r)
	if !ok {
		return
	}
	v.Code = chi.URLParam(r, "code")
	updated, err := h.Store.Update(r.Context(), v)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// Delete removes a voucher.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	if err := h.Store.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (model.Voucher, bool) {
	var payload voucherPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteAppError(w, err)
		return model.Voucher{}, false
	}
	if err := common.ValidateStruct(payload); err != nil {
		common.WriteAppError(w, err)
		return model.Voucher{}, false
	}
	v := payload.toModel()
	if err := v.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return model.Voucher{}, false
	}
	return v, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found", nil)
	case errors.Is(err, ErrDuplicate):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "voucher code already exists", nil)
	default:
		if h.Logger != nil {
			h.Logger.Error().Err(err).Msg("voucher store failure")
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process voucher", nil)
	}
}
