// internal/app/features/health/health.go
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// QueueHealth reports the combined job queue health label
// (healthy, busy, unhealthy).
type QueueHealth func(ctx context.Context) (string, error)

// Handler provides health check endpoints.
type Handler struct {
	mongoClient *mongo.Client
	queues      QueueHealth
	logger      *zap.Logger
}

// NewHandler creates a new health check Handler. queues may be nil when
// the job pipeline is disabled.
func NewHandler(mongoClient *mongo.Client, queues QueueHealth, logger *zap.Logger) *Handler {
	return &Handler{
		mongoClient: mongoClient,
		queues:      queues,
		logger:      logger,
	}
}

// Response represents the health check response.
type Response struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// Routes returns a chi.Router with health check routes mounted.
// Provides /health (full check), /health/ready, and /health/live.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Check)
	r.Get("/ready", h.Ready)
	r.Get("/live", h.Live)
	return r
}

// MountRootEndpoints adds the probe endpoints and the Prometheus scrape
// endpoint directly on the root router:
//   - /ready (or /readyz) - readiness probe
//   - /livez - liveness probe
//   - /metrics - Prometheus
func MountRootEndpoints(r chi.Router, h *Handler) {
	r.Get("/ready", h.Ready)
	r.Get("/readyz", h.Ready)
	r.Get("/livez", h.Live)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}

// Check performs a full health check. Only an unreachable database makes
// the service unavailable; an unhealthy queue is reported but still 200.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:   "ok",
		Services: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		resp.Status = "degraded"
		resp.Services["mongodb"] = "unavailable"
		h.logger.Warn("health check: mongodb ping failed", zap.Error(err))
		jsonutil.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Services["mongodb"] = "ok"

	if h.queues != nil {
		label, err := h.queues(ctx)
		if err != nil {
			h.logger.Warn("health check: queue stats failed", zap.Error(err))
			label = "unknown"
		}
		resp.Services["jobs"] = label
	}

	jsonutil.OK(w, resp)
}

// Ready checks if the service is ready to accept requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

// Live checks if the process is alive.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"alive"}`))
}
