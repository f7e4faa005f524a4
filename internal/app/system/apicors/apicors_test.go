package apicors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(mw func(http.Handler) http.Handler, r *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, called
}

func preflight(target, method string) *http.Request {
	r := httptest.NewRequest(http.MethodOptions, target, nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", method)
	return r
}

func TestMiddleware_SimpleRequest(t *testing.T) {
	rec, called := serve(Middleware(), httptest.NewRequest(http.MethodGet, "/api/files/1", nil))

	if !called {
		t.Fatal("next handler was not called")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got == "" {
		t.Error("Expose-Headers should be set")
	}
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name   string
		mw     func(http.Handler) http.Handler
		method string
		want   int
	}{
		{"api patch", Middleware(), http.MethodPatch, http.StatusNoContent},
		{"api delete", Middleware(), http.MethodDelete, http.StatusNoContent},
		{"api put", Middleware(), http.MethodPut, http.StatusMethodNotAllowed},
		{"read-only get", ReadOnly(), http.MethodGet, http.StatusNoContent},
		{"read-only post", ReadOnly(), http.MethodPost, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, called := serve(tt.mw, preflight("/x", tt.method))
			if called {
				t.Error("preflight should not reach the next handler")
			}
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && rec.Header().Get("Access-Control-Allow-Methods") == "" {
				t.Error("Allow-Methods should be set on an accepted preflight")
			}
		})
	}
}

func TestPlainOptionsPassesThrough(t *testing.T) {
	_, called := serve(ReadOnly(), httptest.NewRequest(http.MethodOptions, "/public/x", nil))
	if !called {
		t.Error("OPTIONS without a preflight header should reach the next handler")
	}
}
