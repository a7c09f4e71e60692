package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// CSRF applies double-submit checks to requests authenticated by the access
// cookie. Bearer tokens and guest session headers are not ambient credentials
// and pass untouched.
type CSRF struct {
	Header     string
	AuthCookie string
}

// Middleware enforces a matching token header and cookie on unsafe methods.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if !c.cookieAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		cookie, err := r.Cookie(headerName)
		switch {
		case token == "":
			csrfError(w, "missing csrf token")
		case err != nil || strings.TrimSpace(cookie.Value) == "":
			csrfError(w, "missing csrf cookie")
		case subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1:
			csrfError(w, "invalid csrf token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (c CSRF) cookieAuthenticated(r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return false
	}
	name := strings.TrimSpace(c.AuthCookie)
	if name == "" {
		return false
	}
	cookie, err := r.Cookie(name)
	return err == nil && strings.TrimSpace(cookie.Value) != ""
}

func csrfError(w http.ResponseWriter, msg string) {
	common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", msg, nil)
}
