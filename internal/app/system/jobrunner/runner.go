// internal/app/system/jobrunner/runner.go
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one attempt of a job. Returning an error wrapping
// jobstore.ErrPermanentFailure fails the job without further retries.
type Handler func(ctx context.Context, job *jobstore.Job) (map[string]any, error)

// Config holds configuration for the job runner.
type Config struct {
	// WorkerCount is the number of concurrent workers per queue.
	WorkerCount int

	// PollInterval is how often an idle worker polls for new jobs.
	PollInterval time.Duration

	// Backoff spaces out retries of failed attempts.
	Backoff jobstore.Backoff

	// StallTimeout is how long a job may stay active before the sweep treats
	// its worker as dead.
	StallTimeout time.Duration

	// HandlerTimeout bounds a single handler run. It is kept below
	// StallTimeout; zero means 90% of StallTimeout.
	HandlerTimeout time.Duration

	// SweepInterval is how often stalled jobs are recovered and old jobs deleted.
	SweepInterval time.Duration

	// JobRetention is how long completed jobs are kept.
	JobRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:   2,
		PollInterval:  time.Second,
		Backoff:       jobstore.Backoff{Base: 5 * time.Second, Cap: 10 * time.Minute},
		StallTimeout:  10 * time.Minute,
		SweepInterval: time.Minute,
		JobRetention:  7 * 24 * time.Hour,
	}
}

// Runner claims jobs from their queues and dispatches them to handlers by
// job type.
type Runner struct {
	store    *jobstore.Store
	handlers map[string]Handler
	config   Config
	logger   *zap.Logger

	workerID   string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Int32
	activeJobs sync.Map // jobID -> struct{}

	mu      sync.RWMutex
	queues  map[string]bool
	started bool
}

// New creates a new job runner.
func New(store *jobstore.Store, logger *zap.Logger, config ...Config) *Runner {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	cfg.HandlerTimeout = handlerTimeout(cfg.HandlerTimeout, cfg.StallTimeout)

	return &Runner{
		store:    store,
		handlers: make(map[string]Handler),
		config:   cfg,
		logger:   logger,
		workerID: uuid.New().String()[:8],
		queues:   make(map[string]bool),
	}
}

// handlerTimeout returns a handler deadline strictly shorter than stall, so a
// worker honoring its context gives up before the sweep can hand the job to
// another worker.
func handlerTimeout(requested, stall time.Duration) time.Duration {
	limit := stall - stall/10
	if limit <= 0 {
		limit = stall
	}
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// Register installs the handler for a job type and starts serving the queue
// that type is routed to.
func (r *Runner) Register(jobType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
	r.queues[jobstore.QueueFor(jobType)] = true
}

// Queues returns the names of the queues being served.
func (r *Runner) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queues))
	for q := range r.queues {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Start begins processing jobs on all registered queues.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	queues := r.Queues()
	if len(queues) == 0 {
		r.logger.Warn("job runner started with no handlers registered")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, queueName := range queues {
		for i := 0; i < r.config.WorkerCount; i++ {
			r.wg.Add(1)
			workerName := fmt.Sprintf("%s-%s-%d", r.workerID, queueName, i)
			go r.worker(ctx, queueName, workerName)
		}
	}

	r.wg.Add(1)
	go r.sweeper(ctx)

	r.logger.Info("job runner started",
		zap.Int("queues", len(queues)),
		zap.Int("workers_per_queue", r.config.WorkerCount),
		zap.Strings("queue_names", queues))

	return nil
}

// Stop gracefully stops the runner and waits for active jobs to complete.
// Jobs still running when ctx expires are left active and recovered later
// by the stall sweep.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("job runner stopped gracefully")
		return nil
	case <-ctx.Done():
		var activeJobs []string
		r.activeJobs.Range(func(key, _ any) bool {
			activeJobs = append(activeJobs, key.(string))
			return true
		})
		r.logger.Warn("job runner shutdown timed out",
			zap.Int32("active_jobs", r.running.Load()),
			zap.Strings("job_ids", activeJobs))
		return ctx.Err()
	}
}

// worker processes jobs from a single queue. It drains the queue before
// going back to polling.
func (r *Runner) worker(ctx context.Context, queueName, workerName string) {
	defer r.wg.Done()

	r.logger.Debug("worker started",
		zap.String("worker", workerName),
		zap.String("queue", queueName))

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("worker stopping",
				zap.String("worker", workerName))
			return
		case <-ticker.C:
			for ctx.Err() == nil && r.processNextJob(ctx, queueName, workerName) {
			}
		}
	}
}

// processNextJob claims and runs one job. It reports whether a job was found.
func (r *Runner) processNextJob(ctx context.Context, queueName, workerName string) bool {
	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	job, err := r.store.ClaimNext(claimCtx, queueName, workerName)
	cancel()

	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to claim job",
				zap.String("queue", queueName),
				zap.Error(err))
		}
		return false
	}
	if job == nil {
		return false
	}

	r.running.Add(1)
	r.activeJobs.Store(job.ID.Hex(), struct{}{})
	defer func() {
		r.running.Add(-1)
		r.activeJobs.Delete(job.ID.Hex())
	}()

	r.mu.RLock()
	handler, ok := r.handlers[job.JobType]
	r.mu.RUnlock()

	if !ok {
		r.logger.Error("no handler registered for job type",
			zap.String("job_type", job.JobType),
			zap.String("job_id", job.ID.Hex()))
		r.fail(job, fmt.Errorf("no handler for job type %s: %w", job.JobType, jobstore.ErrPermanentFailure))
		return true
	}

	start := time.Now()
	r.logger.Debug("processing job",
		zap.String("job_id", job.ID.Hex()),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts))

	jobCtx, jobCancel := context.WithTimeout(ctx, r.config.HandlerTimeout)
	result, err := r.run(jobCtx, handler, job)
	jobCancel()

	duration := time.Since(start)
	metrics.JobDuration.WithLabelValues(job.JobType).Observe(duration.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the job active for the stall sweep rather
			// than charging it a failed attempt.
			r.logger.Info("job interrupted by shutdown",
				zap.String("job_id", job.ID.Hex()),
				zap.String("job_type", job.JobType))
			return true
		}
		r.logger.Warn("job failed",
			zap.String("job_id", job.ID.Hex()),
			zap.String("job_type", job.JobType),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Duration("duration", duration),
			zap.Error(err))
		r.fail(job, err)
		return true
	}

	r.logger.Info("job completed",
		zap.String("job_id", job.ID.Hex()),
		zap.String("job_type", job.JobType),
		zap.String("file_id", job.Payload.FileID.Hex()),
		zap.Duration("duration", duration))

	completeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = r.store.Complete(completeCtx, job, result)
	cancel()
	switch {
	case errors.Is(err, jobstore.ErrLeaseLost):
		r.leaseLost(job)
	case err != nil:
		r.logger.Error("failed to mark job as completed",
			zap.String("job_id", job.ID.Hex()),
			zap.Error(err))
	default:
		metrics.JobsProcessed.WithLabelValues(job.JobType, jobstore.StatusCompleted).Inc()
	}
	return true
}

// run calls the handler and turns a panic into a failed attempt.
func (r *Runner) run(ctx context.Context, h Handler, job *jobstore.Job) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) fail(job *jobstore.Job, cause error) {
	permanent := errors.Is(cause, jobstore.ErrPermanentFailure)

	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := r.store.Fail(failCtx, job, cause.Error(), r.config.Backoff, permanent)
	if errors.Is(err, jobstore.ErrLeaseLost) {
		r.leaseLost(job)
		return
	}
	if err != nil {
		r.logger.Error("failed to mark job as failed",
			zap.String("job_id", job.ID.Hex()),
			zap.Error(err))
		return
	}

	outcome := "retried"
	if status == jobstore.StatusFailed {
		outcome = jobstore.StatusFailed
	}
	metrics.JobsProcessed.WithLabelValues(job.JobType, outcome).Inc()
}

// leaseLost logs an outcome dropped because the stall sweep took the job
// away from this worker.
func (r *Runner) leaseLost(job *jobstore.Job) {
	r.logger.Warn("job outcome dropped, claim no longer held",
		zap.String("job_id", job.ID.Hex()),
		zap.String("job_type", job.JobType),
		zap.String("worker", job.WorkerID),
		zap.Int("attempt", job.Attempts))
}

// sweeper periodically recovers stalled jobs and deletes old completed ones.
func (r *Runner) sweeper(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one stall-recovery and retention pass.
func (r *Runner) Sweep(ctx context.Context) {
	staleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	requeued, failed, err := r.store.SweepStalled(staleCtx, r.config.StallTimeout)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to sweep stalled jobs", zap.Error(err))
		}
	} else if requeued+failed > 0 {
		metrics.JobsStalled.WithLabelValues("requeued").Add(float64(requeued))
		metrics.JobsStalled.WithLabelValues("failed").Add(float64(failed))
		r.logger.Warn("recovered stalled jobs",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed))
	}

	if r.config.JobRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.config.JobRetention)
	deleteCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	deleted, err := r.store.DeleteOlderThan(deleteCtx, cutoff)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to delete old jobs", zap.Error(err))
		}
	} else if deleted > 0 {
		r.logger.Info("deleted old completed jobs", zap.Int64("count", deleted))
	}
}

// Stats describes the runner and its queues.
type Stats struct {
	WorkerID   string                `json:"worker_id"`
	ActiveJobs int32                 `json:"active_jobs"`
	QueueStats []jobstore.QueueStats `json:"queues"`
}

// Stats returns current runner statistics.
func (r *Runner) Stats(ctx context.Context, th jobstore.HealthThresholds) (Stats, error) {
	queueStats, err := r.store.GetAllQueueStats(ctx, th)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		WorkerID:   r.workerID,
		ActiveJobs: r.running.Load(),
		QueueStats: queueStats,
	}, nil
}
