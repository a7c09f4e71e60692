package discount

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/model"
)

// Invalidator drops cached discount lookups after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Handler exposes discount administration and the pricing preview.
type Handler struct {
	Store    Store
	Cache    Invalidator
	Resolver *Resolver
	Logger   *zerolog.Logger
}

type discountPayload struct {
	Name      string  `json:"name" validate:"max=120"`
	Scope     string  `json:"scope" validate:"required,oneof=product campaign"`
	ProductID string  `json:"productId" validate:"required_if=Scope product"`
	Method    string  `json:"method" validate:"required,oneof=fixed percentage"`
	Value     float64 `json:"value" validate:"gte=0"`
	StartDate string  `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   *string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	Status    string  `json:"status" validate:"omitempty,oneof=active inactive"`
	Capped    bool    `json:"capped"`
	CapAmount float64 `json:"capAmount" validate:"gte=0"`
}

func (p discountPayload) toModel(id string) model.Discount {
	status := model.DiscountStatus(p.Status)
	if status == "" {
		status = model.StatusActive
	}
	return model.Discount{
		ID:        id,
		Name:      strings.TrimSpace(p.Name),
		Scope:     model.DiscountScope(p.Scope),
		ProductID: strings.TrimSpace(p.ProductID),
		Method:    model.DiscountMethod(p.Method),
		Value:     p.Value,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Status:    status,
		Capped:    p.Capped,
		CapAmount: p.CapAmount,
	}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/status", h.SetStatus)
	r.Delete("/{id}", h.Delete)
}

// List returns a page of discounts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	page := common.ParsePage(r, 50, 200)
	scope := model.DiscountScope(strings.TrimSpace(r.URL.Query().Get("scope")))
	rows, err := h.Store.List(r.Context(), scope, page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       rows,
		"pagination": common.Page{Limit: page.Limit, Offset: page.Offset, Count: len(rows)},
	})
}

// Get returns a single discount.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	d, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

// Create inserts a discount.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	d, ok := h.decode(w, r, "")
	if !ok {
		return
	}
	created, err := h.Store.Create(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Update replaces a discount.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	d, ok := h.decode(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	updated, err := h.Store.Update(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

// SetStatus toggles a discount on or off.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	var payload struct {
		Status string `json:"status" validate:"required,oneof=active inactive"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteAppError(w, err)
		return
	}
	if err := common.ValidateStruct(payload); err != nil {
		common.WriteAppError(w, err)
		return
	}
	d, err := h.Store.SetStatus(r.Context(), chi.URLParam(r, "id"), model.DiscountStatus(payload.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	common.JSON(w, http.StatusOK, map[string]any{"data": d})
}

// Delete removes a discount.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	if err := h.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Preview prices one unit price and quantity for a product with the best active discount.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Resolver == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount resolver not configured", nil)
		return
	}
	q := r.URL.Query()
	price, err := strconv.ParseFloat(q.Get("price"), 64)
	if err != nil || price < 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "price must be a non-negative number", nil)
		return
	}
	qty := common.IntQuery(r, "qty", 1)
	result := h.Resolver.ApplyBest(r.Context(), chi.URLParam(r, "productId"), price, qty)
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, id string) (model.Discount, bool) {
	var payload discountPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteAppError(w, err)
		return model.Discount{}, false
	}
	if err := common.ValidateStruct(payload); err != nil {
		common.WriteAppError(w, err)
		return model.Discount{}, false
	}
	d := payload.toModel(id)
	if err := d.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return model.Discount{}, false
	}
	return d, true
}

func (h *Handler) invalidate(ctx context.Context) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx); err != nil && h.Logger != nil {
		h.Logger.Warn().Err(err).Msg("discount cache invalidation failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount not found", nil)
	case errors.Is(err, model.ErrInvalidDiscount):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		if h.Logger != nil {
			h.Logger.Error().Err(err).Msg("discount store failure")
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process discount", nil)
	}
}
