package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Config names a throttle and sets its window. Key identifies the caller; the
// stored counter key is Name + ":" + Key(r).
type Config struct {
	Name   string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler rejects callers over Max requests per Window with 429.
type Handler struct {
	Limiter Limiter
	Config  Config
	// OnError sees limiter failures. The request is let through.
	OnError func(error)
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil {
		return next
	}
	name := h.Config.Name
	if name == "" {
		name = "default"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), name+":"+h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		obs.RateLimitedTotal.WithLabelValues(name).Inc()
		wait := int(time.Until(resetAt).Round(time.Second) / time.Second)
		headers.Set("Retry-After", strconv.Itoa(max(wait, 1)))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, retry later", nil)
	})
}

// ClientKey combines the caller identity with the client address.
func ClientKey(identity func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		who := "anonymous"
		if identity != nil {
			if id := identity(r); id != "" {
				who = id
			}
		}
		return who + ":" + common.ClientIP(r)
	}
}
