// Package public serves share links to unauthenticated clients.
package public

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/features/files"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/network"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Guard throttles clients that keep presenting unknown share tokens.
// ratelimit.Store implements it.
type Guard interface {
	Allowed(ctx context.Context, key string) (bool, *time.Time)
	RecordMiss(ctx context.Context, key string) (bool, *time.Time)
}

// Handler serves GET /public/{token}.
type Handler struct {
	engine     *lifecycle.Engine
	guard      Guard // nil = no throttling
	trustProxy bool
	errLog     *errorsfeature.ErrorLogger
	logger     *zap.Logger
}

// NewHandler creates a new public Handler.
func NewHandler(engine *lifecycle.Engine, guard Guard, trustProxy bool, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		engine:     engine,
		guard:      guard,
		trustProxy: trustProxy,
		errLog:     errLog,
		logger:     logger,
	}
}

// Routes returns a chi.Router with the share link route mounted.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{token}", h.serve)
	return r
}

// serve streams the current version behind a share token and counts the
// access. Unknown, revoked, and trashed links are all 404.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := network.ClientIP(r, h.trustProxy)

	if h.guard != nil {
		if ok, until := h.guard.Allowed(ctx, client); !ok {
			if until != nil {
				secs := int(time.Until(*until).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			jsonutil.Error(w, http.StatusTooManyRequests, "too many unknown share links")
			return
		}
	}

	f, rc, err := h.engine.OpenPublic(ctx, chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) && h.guard != nil {
			if locked, _ := h.guard.RecordMiss(ctx, client); locked {
				h.logger.Warn("client locked out of share links",
					zap.String("client", client))
			}
		}
		h.errLog.Write(w, r, "open share link", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Cache-Control", "private, no-store")
	inline := r.URL.Query().Get("inline") == "1"
	files.ServeContent(w, f.Name, f.MimeType, f.SizeBytes, inline, rc, h.logger)
}
