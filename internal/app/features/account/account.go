// Package account serves owner-wide views: the trash and quota usage.
package account

import (
	"net/http"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler provides account handlers.
type Handler struct {
	engine *lifecycle.Engine
	errLog *errorsfeature.ErrorLogger
	logger *zap.Logger
}

// NewHandler creates a new account Handler.
func NewHandler(engine *lifecycle.Engine, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, errLog: errLog, logger: logger}
}

// MountRoutes adds GET /trash and GET /usage to r.
func MountRoutes(r chi.Router, h *Handler) {
	r.Get("/trash", h.Trash)
	r.Get("/usage", h.Usage)
}

// Trash lists the owner's top-level trashed folders and files.
func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "account.trash")
	defer cancel()

	listing, err := h.engine.ListTrash(ctx, auth.OwnerID(r))
	if err != nil {
		h.errLog.Write(w, r, "list trash", err)
		return
	}
	jsonutil.OK(w, listing)
}

// UsageResponse is the body of GET /api/usage.
type UsageResponse struct {
	QuotaBytes     int64 `json:"quota_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	RemainingBytes int64 `json:"remaining_bytes"`
}

// Usage reports the owner's quota and current usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "account.usage")
	defer cancel()

	u, err := h.engine.Usage(ctx, auth.OwnerID(r))
	if err != nil {
		h.errLog.Write(w, r, "load usage", err)
		return
	}
	jsonutil.OK(w, UsageResponse{
		QuotaBytes:     u.QuotaBytes,
		UsedBytes:      u.UsedBytes,
		RemainingBytes: u.Remaining(),
	})
}
