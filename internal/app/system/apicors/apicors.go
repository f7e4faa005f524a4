// Package apicors provides CORS middleware for endpoints that never rely on
// cookies: Bearer-token API routes and anonymous share links.
//
// With no credentials in play, any origin may call these endpoints; the
// browser still withholds the Authorization header unless the caller's own
// script supplies it.
package apicors

import (
	"net/http"
	"strings"
)

type policy struct {
	methods string
	headers string
	expose  string
}

var (
	api = policy{
		methods: "GET, POST, PATCH, DELETE, OPTIONS",
		headers: "Authorization, Content-Type, Accept",
		expose:  "Content-Disposition, Content-Length, Retry-After",
	}
	readOnly = policy{
		methods: "GET, HEAD, OPTIONS",
		headers: "Accept, Range",
		expose:  "Content-Disposition, Content-Length, Retry-After",
	}
)

// Middleware returns CORS middleware for Bearer-authenticated API routes.
//
// Usage in routes.go:
//
//	r.Route("/api", func(r chi.Router) {
//	    r.Use(apicors.Middleware())
//	    r.Use(verifier.RequireOwner)
//	    ...
//	})
func Middleware() func(http.Handler) http.Handler {
	return api.handler
}

// ReadOnly returns CORS middleware for anonymous GET endpoints such as
// public share links. Other methods fail preflight.
func ReadOnly() func(http.Handler) http.Handler {
	return readOnly.handler
}

func (p policy) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", p.expose)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !p.allows(r.Header.Get("Access-Control-Request-Method")) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.Set("Access-Control-Allow-Methods", p.methods)
			h.Set("Access-Control-Allow-Headers", p.headers)
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (p policy) allows(method string) bool {
	for _, m := range strings.Split(p.methods, ", ") {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
