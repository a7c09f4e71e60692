package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler lists audit entries for administrators.
type Handler struct {
	Store Store
}

// List handles GET /admin/audit?resource=discounts&limit=&offset=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	q := r.URL.Query()
	page := common.ParsePage(r, 50, 200)
	rows, err := h.Store.List(r.Context(), strings.TrimSpace(q.Get("resource")), page.Limit, page.Offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "limit": page.Limit, "offset": page.Offset})
}
