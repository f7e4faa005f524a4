// internal/app/features/jobs/routes.go
package jobsfeature

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns the operator queue router. Callers mount it behind
// auth.APIKeyAuth.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/stats", h.ServeStats)
	r.Get("/jobs", h.ServeList)
	r.Get("/jobs/{id}", h.ServeDetail)
	r.Post("/jobs/{id}/retry", h.HandleRetry)

	return r
}
