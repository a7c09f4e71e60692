package common

import (
	"net/http"
	"strconv"
	"strings"
)

// Page is a limit/offset window over a list endpoint.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// ParsePage reads ?limit= and ?offset= (or ?page= as a 1-based page number).
// Limits outside (0, max] fall back to def.
func ParsePage(r *http.Request, def, max int) Page {
	q := r.URL.Query()
	p := Page{Limit: IntQuery(r, "limit", def)}
	if p.Limit <= 0 || p.Limit > max {
		p.Limit = def
	}
	if q.Has("offset") {
		p.Offset = IntQuery(r, "offset", 0)
	} else if n := IntQuery(r, "page", 1); n > 1 {
		p.Offset = (n - 1) * p.Limit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// IntQuery parses the named query parameter, returning def when absent or malformed.
func IntQuery(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
