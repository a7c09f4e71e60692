package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler serves product reads and cache eviction.
type Handler struct {
	Service *Service
}

// Product handles GET /products/{productId}.
func (h Handler) Product(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	p, err := h.Service.GetProduct(r.Context(), chi.URLParam(r, "productId"))
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
	case err != nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load product", nil)
	default:
		common.JSON(w, http.StatusOK, map[string]any{"data": p})
	}
}

// Evict handles DELETE /admin/products/{productId}/cache after a price edit.
func (h Handler) Evict(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	if err := h.Service.Forget(r.Context(), chi.URLParam(r, "productId")); err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "unable to evict product", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
