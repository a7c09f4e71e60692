package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// HTTPRecorder audits state-changing requests after they are handled. Reads
// are not recorded.
type HTTPRecorder struct {
	Service Service
	OnError func(error)
}

// Middleware implements chi middleware.
func (h HTTPRecorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		rec := obs.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := obs.Route(r)
		if route == "" {
			route = r.URL.Path
		}
		userID, _ := common.UserID(r.Context())
		entry := Entry{
			ActorID:    userID,
			ActorRole:  auth.Role(r.Context()),
			Action:     r.Method + " " + route,
			Resource:   resourceOf(route),
			ResourceID: resourceID(r),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.Status(),
			RequestID:  nonEmpty(middleware.GetReqID(r.Context())),
			IP:         nonEmpty(common.ClientIP(r)),
			Metadata:   queryMetadata(r),
		}
		if err := h.Service.Record(r.Context(), entry); err != nil && h.OnError != nil {
			h.OnError(err)
		}
	})
}

// resourceOf maps /api/v1/admin/discounts/{id}/status to discounts.
func resourceOf(route string) string {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	for i, seg := range segments {
		if seg == "admin" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	if len(segments) == 0 || segments[0] == "" {
		return "unknown"
	}
	return segments[len(segments)-1]
}

func resourceID(r *http.Request) *string {
	for _, key := range []string{"id", "code", "productId"} {
		if v := chi.URLParam(r, key); v != "" {
			return &v
		}
	}
	return nil
}

func queryMetadata(r *http.Request) json.RawMessage {
	if strings.TrimSpace(r.URL.RawQuery) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": r.URL.RawQuery})
	if err != nil {
		return nil
	}
	return data
}

func nonEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
