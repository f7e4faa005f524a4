// internal/app/system/tasks/runner.go
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic maintenance pass (quota reconciliation, trash expiry).
// Unlike queue jobs, tasks are not persisted; each process runs its own.
type Task struct {
	Name     string
	Interval time.Duration // <= 0 disables the task
	Timeout  time.Duration // per-run bound; 0 = Interval
	Run      func(ctx context.Context) error
}

// Runner executes registered tasks on their intervals.
type Runner struct {
	logger  *zap.Logger
	tasks   []Task
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running atomic.Int32
	names   sync.Map // tasks currently executing
}

// New creates a new task runner.
func New(logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger,
	}
}

// Register adds a task. Disabled tasks are logged and ignored.
func (r *Runner) Register(task Task) {
	if task.Interval <= 0 {
		r.logger.Info("background task disabled", zap.String("task", task.Name))
		return
	}
	r.tasks = append(r.tasks, task)
}

// Names returns the registered task names.
func (r *Runner) Names() []string {
	out := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Name)
	}
	return out
}

// Start begins executing all registered tasks. Each runs once immediately.
// Call Stop to shut down.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, task := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, task)
	}

	r.logger.Info("background task runner started",
		zap.Strings("tasks", r.Names()))
}

// Stop cancels all tasks and waits for running ones within ctx's deadline.
// If ctx ends first, it returns ctx.Err().
func (r *Runner) Stop(ctx context.Context) error {
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
		r.logger.Info("background task runner stopped gracefully")
		return nil
	case <-ctx.Done():
		var stillRunning []string
		r.names.Range(func(key, _ any) bool {
			stillRunning = append(stillRunning, key.(string))
			return true
		})
		r.logger.Warn("background task runner shutdown timed out",
			zap.Strings("tasks_still_running", stillRunning),
			zap.Int32("running_count", r.running.Load()))
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, task Task) {
	defer r.wg.Done()

	r.execute(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("task stopped", zap.String("task", task.Name))
			return
		case <-ticker.C:
			r.execute(ctx, task)
		}
	}
}

func (r *Runner) execute(ctx context.Context, task Task) {
	r.running.Add(1)
	r.names.Store(task.Name, struct{}{})
	defer func() {
		r.running.Add(-1)
		r.names.Delete(task.Name)
	}()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = task.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(runCtx); err != nil {
		if ctx.Err() != nil {
			r.logger.Debug("task cancelled during shutdown",
				zap.String("task", task.Name),
				zap.Duration("duration", time.Since(start)))
			return
		}
		r.logger.Error("task failed",
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	r.logger.Debug("task completed",
		zap.String("task", task.Name),
		zap.Duration("duration", time.Since(start)))
}

// RunOnce runs the named task immediately, outside its schedule.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	for _, task := range r.tasks {
		if task.Name == name {
			return task.Run(ctx)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}
