// internal/app/features/jobs/handler.go
package jobsfeature

import (
	"errors"
	"net/http"
	"strconv"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultListLimit is the page size used when ?limit= is absent.
const DefaultListLimit = 50

// Handler serves the operator view of the job queues.
type Handler struct {
	store      *jobstore.Store
	thresholds jobstore.HealthThresholds
	errLog     *errorsfeature.ErrorLogger
	logger     *zap.Logger
}

// NewHandler creates a new jobs handler.
func NewHandler(store *jobstore.Store, th jobstore.HealthThresholds, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		thresholds: th,
		errLog:     errLog,
		logger:     logger,
	}
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Overall jobstore.QueueStats   `json:"overall"`
	Queues  []jobstore.QueueStats `json:"queues"`
}

// ServeStats handles GET /stats: counts per status and a health label, for
// all queues combined and per queue.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "queue stats")
	defer cancel()

	overall, err := h.store.GetQueueStats(ctx, "", h.thresholds)
	if err != nil {
		h.errLog.Write(w, r, "failed to load queue stats", err)
		return
	}
	queues, err := h.store.GetAllQueueStats(ctx, h.thresholds)
	if err != nil {
		h.errLog.Write(w, r, "failed to load queue stats", err)
		return
	}
	if queues == nil {
		queues = []jobstore.QueueStats{}
	}

	jsonutil.OK(w, StatsResponse{Overall: overall, Queues: queues})
}

// ServeList handles GET /jobs?status=&queue=&type=&limit=&page=, newest first.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := DefaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonutil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	page := 1
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonutil.BadRequest(w, "page must be a positive integer")
			return
		}
		page = n
	}

	filter := jobstore.ListFilter{
		QueueName: q.Get("queue"),
		JobType:   q.Get("type"),
		Status:    q.Get("status"),
	}
	switch filter.Status {
	case "", jobstore.StatusWaiting, jobstore.StatusActive, jobstore.StatusCompleted, jobstore.StatusFailed:
	default:
		jsonutil.BadRequest(w, "unknown status "+strconv.Quote(filter.Status))
		return
	}
	if s := q.Get("file_id"); s != "" {
		id, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			jsonutil.BadRequest(w, "invalid file_id")
			return
		}
		filter.FileID = &id
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "list jobs")
	defer cancel()

	result, err := h.store.List(ctx, filter, page, limit)
	if err != nil {
		h.errLog.Write(w, r, "failed to load jobs", err)
		return
	}
	jsonutil.OK(w, result)
}

// ServeDetail handles GET /jobs/{id}.
func (h *Handler) ServeDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "get job")
	defer cancel()

	job, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			jsonutil.NotFound(w, "job not found")
			return
		}
		h.errLog.Write(w, r, "failed to load job", err)
		return
	}
	jsonutil.OK(w, job)
}

// HandleRetry handles POST /jobs/{id}/retry. Only failed jobs can be retried.
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "retry job")
	defer cancel()

	job, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			jsonutil.NotFound(w, "job not found")
			return
		}
		h.errLog.Write(w, r, "failed to load job", err)
		return
	}
	if !job.Retryable() {
		jsonutil.Conflict(w, "job is "+job.Status+", only failed jobs can be retried")
		return
	}

	if err := h.store.Retry(ctx, id); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			// Lost a race with another retry.
			jsonutil.Conflict(w, "job is no longer failed")
			return
		}
		h.errLog.Write(w, r, "failed to retry job", err)
		return
	}

	h.logger.Info("job retried",
		zap.String("job_id", id.Hex()),
		zap.String("job_type", job.JobType),
		zap.String("file_id", job.Payload.FileID.Hex()))

	jsonutil.NoContent(w)
}

func jobID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		jsonutil.NotFound(w, "job not found")
		return primitive.NilObjectID, false
	}
	return id, true
}
