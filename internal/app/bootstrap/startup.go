// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"time"

	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/jobrunner"
	"github.com/dalemusser/stratadrive/internal/app/system/processing"
	"github.com/dalemusser/stratadrive/internal/app/system/tasks"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are complete,
// but before the HTTP handler is built and requests are served.
//
// It starts the artifact workers and the periodic maintenance tasks.
// Returning a non-nil error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if appCfg.JobsEnabled {
		if err := startJobRunner(appCfg, deps, logger); err != nil {
			logger.Error("failed to start job runner", zap.Error(err))
			return err
		}
	} else {
		logger.Info("job runner disabled; jobs are queued for another process")
	}

	startTaskRunner(appCfg, deps, logger)
	return nil
}

// jobRunner and taskRunner are kept for graceful shutdown.
var (
	jobRunner  *jobrunner.Runner
	taskRunner *tasks.Runner
)

func runnerConfig(appCfg AppConfig) jobrunner.Config {
	cfg := jobrunner.DefaultConfig()
	cfg.WorkerCount = appCfg.JobsWorkers
	cfg.PollInterval = appCfg.JobsPollInterval
	cfg.Backoff = jobstore.Backoff{Base: appCfg.JobsRetryBase, Cap: appCfg.JobsRetryCap}
	cfg.StallTimeout = appCfg.JobsStallTimeout
	cfg.JobRetention = appCfg.JobsRetention
	return cfg
}

// healthThresholds derives the queue health labels from config.
func healthThresholds(appCfg AppConfig) jobstore.HealthThresholds {
	return jobstore.HealthThresholds{
		BusyWaiting:  appCfg.QueueBusyWaiting,
		MaxFailed:    appCfg.QueueMaxFailed,
		StallTimeout: appCfg.JobsStallTimeout,
	}
}

func startJobRunner(appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	jobRunner = jobrunner.New(jobstore.New(deps.MongoDatabase), logger, runnerConfig(appCfg))

	handlers := processing.New(deps.Blobs, deps.Engine, processing.Config{
		ThumbnailMaxDim: appCfg.ThumbnailMaxDim,
	}, logger)
	handlers.Register(jobRunner)

	return jobRunner.Start()
}

func startTaskRunner(appCfg AppConfig, deps DBDeps, logger *zap.Logger) {
	taskRunner = tasks.New(logger)

	taskRunner.Register(tasks.QuotaReconcileTask(deps.Engine, logger, appCfg.QuotaReconcile))
	taskRunner.Register(tasks.TrashExpiryTask(deps.Engine, logger, appCfg.TrashRetention, trashSweepInterval(appCfg.TrashRetention)))

	taskRunner.Start()
}

// trashSweepInterval checks for expired trash often enough that items are
// purged within a small fraction of the retention period.
func trashSweepInterval(retention time.Duration) time.Duration {
	d := retention / 24
	if d < time.Minute {
		d = time.Minute
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
