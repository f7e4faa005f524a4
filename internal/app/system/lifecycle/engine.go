// Package lifecycle is the file lifecycle engine: the single place where
// files, folders, versions, share links, and quota change state. Every
// mutating operation commits its data changes together and then hands
// derived-artifact work to the job queue.
package lifecycle

import (
	"context"
	"time"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	quotastore "github.com/dalemusser/stratadrive/internal/app/store/quota"
	versionstore "github.com/dalemusser/stratadrive/internal/app/store/version"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/dalemusser/stratadrive/internal/app/system/sharetoken"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Config tunes the engine.
type Config struct {
	DefaultQuotaBytes int64         // quota for owners without a ledger
	MaxJobAttempts    int           // attempts per enqueued job
	EnqueueTimeout    time.Duration // budget for post-commit enqueue
	VersionRetries    int           // compare-and-set retries for AddVersion
	ShareTokenRetries int           // regenerations on token collision
}

func (c Config) withDefaults() Config {
	if c.MaxJobAttempts < 1 {
		c.MaxJobAttempts = jobstore.DefaultMaxAttempts
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 5 * time.Second
	}
	if c.VersionRetries < 1 {
		c.VersionRetries = 5
	}
	if c.ShareTokenRetries < 1 {
		c.ShareTokenRetries = 5
	}
	return c
}

// Enqueuer accepts derived-artifact jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload jobstore.Payload, maxAttempts int) (jobstore.Job, error)
}

// Engine orchestrates lifecycle operations.
type Engine struct {
	db       *mongo.Database
	files    *filestore.Store
	folders  *folderstore.Store
	versions *versionstore.Store
	quotas   *quotastore.Store
	jobs     Enqueuer
	blobs    blobstore.Store
	tokens   *sharetoken.Generator
	fileLock *keyLock
	cfg      Config
	logger   *zap.Logger
}

// New creates an engine over db. Jobs go to the Mongo job queue and blob
// references are released through blobs.
func New(db *mongo.Database, blobs blobstore.Store, cfg Config, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		db:       db,
		files:    filestore.New(db),
		folders:  folderstore.New(db),
		versions: versionstore.New(db),
		quotas:   quotastore.New(db, cfg.DefaultQuotaBytes),
		jobs:     jobstore.New(db),
		blobs:    blobs,
		tokens:   sharetoken.New(),
		fileLock: newKeyLock(),
		cfg:      cfg,
		logger:   logger,
	}
}

// Quotas exposes the quota ledger for administrative changes.
func (e *Engine) Quotas() *quotastore.Store {
	return e.quotas
}

// observe records an operation outcome and passes err through translated.
func observe(op string, err error) error {
	err = translate(err)
	metrics.LifecycleOps.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}
