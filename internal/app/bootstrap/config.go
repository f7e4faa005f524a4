// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/stratadrive/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "STRATADRIVE"

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, jwt_secret, etc.
//   - Environment variables: STRATADRIVE_MONGO_URI, STRATADRIVE_JWT_SECRET, etc.
//   - Command-line flags: --mongo_uri, --jwt_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "stratadrive", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "jwt_secret", Default: auth.DefaultDevSecret, Desc: "HS256 secret for caller tokens (32+ chars in production)"},
	{Name: "jwt_issuer", Default: "", Desc: "Required token issuer (blank accepts any)"},
	{Name: "api_key", Default: "", Desc: "Operator API key for /api/queue (leave empty to disable)"},
	{Name: "trust_proxy", Default: false, Desc: "Trust X-Forwarded-For / X-Real-IP for client addresses"},

	// Blob storage configuration
	{Name: "storage_type", Default: "local", Desc: "Storage backend: 'local' or 's3'"},
	{Name: "storage_local_path", Default: "./data/blobs", Desc: "Local storage path for blobs"},

	// S3/CloudFront configuration
	{Name: "storage_s3_region", Default: "", Desc: "AWS region for S3"},
	{Name: "storage_s3_bucket", Default: "", Desc: "S3 bucket name"},
	{Name: "storage_s3_prefix", Default: "stratadrive/", Desc: "S3 key prefix"},
	{Name: "storage_cf_url", Default: "", Desc: "CloudFront distribution URL"},
	{Name: "storage_cf_keypair_id", Default: "", Desc: "CloudFront key pair ID"},
	{Name: "storage_cf_key_path", Default: "", Desc: "Path to CloudFront private key file"},

	// File lifecycle
	{Name: "default_quota_bytes", Default: 5 << 30, Desc: "Storage quota for new owners in bytes"},
	{Name: "max_upload_bytes", Default: 512 << 20, Desc: "Largest accepted upload in bytes"},
	{Name: "trash_retention", Default: "720h", Desc: "Purge trashed items older than this (0 disables)"},
	{Name: "quota_reconcile_interval", Default: "6h", Desc: "Quota reconciliation interval (0 disables)"},
	{Name: "thumbnail_max_dim", Default: 256, Desc: "Longest thumbnail side in pixels"},

	// Share-link guessing protection
	{Name: "share_miss_limit", Default: 20, Desc: "Unknown share tokens per client before lockout"},
	{Name: "share_miss_window", Default: "10m", Desc: "Window for counting unknown share tokens"},
	{Name: "share_miss_lockout", Default: "15m", Desc: "Lockout after too many unknown share tokens"},

	// Job runner
	{Name: "jobs_enabled", Default: true, Desc: "Run background workers in this process"},
	{Name: "jobs_workers", Default: 2, Desc: "Workers per queue"},
	{Name: "jobs_poll_interval", Default: "1s", Desc: "Idle worker poll interval"},
	{Name: "jobs_max_attempts", Default: 3, Desc: "Attempts per job before it fails"},
	{Name: "jobs_retry_base", Default: "5s", Desc: "Delay before the first retry (doubles per attempt)"},
	{Name: "jobs_retry_cap", Default: "10m", Desc: "Longest retry delay"},
	{Name: "jobs_stall_timeout", Default: "10m", Desc: "Active jobs older than this are recovered"},
	{Name: "jobs_retention", Default: "168h", Desc: "Keep completed jobs this long"},
	{Name: "queue_busy_threshold", Default: 100, Desc: "Waiting jobs at which a queue reports busy"},
	{Name: "queue_failed_threshold", Default: 10, Desc: "Failed jobs above which a queue reports unhealthy"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// environment variables (WAFFLE_* for core, STRATADRIVE_* for app) and
// flags, with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		JWTSecret:  appValues.String("jwt_secret"),
		JWTIssuer:  appValues.String("jwt_issuer"),
		APIKey:     appValues.String("api_key"),
		TrustProxy: appValues.Bool("trust_proxy"),

		// Blob storage
		StorageType:      appValues.String("storage_type"),
		StorageLocalPath: appValues.String("storage_local_path"),

		// S3/CloudFront
		StorageS3Region:    appValues.String("storage_s3_region"),
		StorageS3Bucket:    appValues.String("storage_s3_bucket"),
		StorageS3Prefix:    appValues.String("storage_s3_prefix"),
		StorageCFURL:       appValues.String("storage_cf_url"),
		StorageCFKeyPairID: appValues.String("storage_cf_keypair_id"),
		StorageCFKeyPath:   appValues.String("storage_cf_key_path"),

		// File lifecycle
		DefaultQuotaBytes: int64(appValues.Int("default_quota_bytes")),
		MaxUploadBytes:    int64(appValues.Int("max_upload_bytes")),
		TrashRetention:    appValues.Duration("trash_retention", 30*24*time.Hour),
		QuotaReconcile:    appValues.Duration("quota_reconcile_interval", 6*time.Hour),
		ThumbnailMaxDim:   appValues.Int("thumbnail_max_dim"),

		// Share-link guessing
		ShareMissLimit:   appValues.Int("share_miss_limit"),
		ShareMissWindow:  appValues.Duration("share_miss_window", 10*time.Minute),
		ShareMissLockout: appValues.Duration("share_miss_lockout", 15*time.Minute),

		// Job runner
		JobsEnabled:      appValues.Bool("jobs_enabled"),
		JobsWorkers:      appValues.Int("jobs_workers"),
		JobsPollInterval: appValues.Duration("jobs_poll_interval", time.Second),
		JobsMaxAttempts:  appValues.Int("jobs_max_attempts"),
		JobsRetryBase:    appValues.Duration("jobs_retry_base", 5*time.Second),
		JobsRetryCap:     appValues.Duration("jobs_retry_cap", 10*time.Minute),
		JobsStallTimeout: appValues.Duration("jobs_stall_timeout", 10*time.Minute),
		JobsRetention:    appValues.Duration("jobs_retention", 7*24*time.Hour),
		QueueBusyWaiting: int64(appValues.Int("queue_busy_threshold")),
		QueueMaxFailed:   int64(appValues.Int("queue_failed_threshold")),
	}

	if t := timeouts.FromEnv(EnvVarPrefix); t != (timeouts.Config{}) {
		timeouts.Configure(t)
		cur := timeouts.Current()
		logger.Info("operation timeouts overridden",
			zap.Duration("short", cur.Short),
			zap.Duration("medium", cur.Medium),
			zap.Duration("long", cur.Long),
			zap.Duration("batch", cur.Batch))
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(appCfg, coreCfg.Env == "prod")
}

// validateApp checks the app values that have no usable zero value.
func validateApp(appCfg AppConfig, production bool) error {
	switch appCfg.StorageType {
	case "", "local":
		if appCfg.StorageLocalPath == "" {
			return fmt.Errorf("storage_local_path is required for local storage")
		}
	case "s3":
		if appCfg.StorageS3Bucket == "" || appCfg.StorageS3Region == "" {
			return fmt.Errorf("storage_s3_bucket and storage_s3_region are required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", appCfg.StorageType)
	}

	if appCfg.DefaultQuotaBytes <= 0 {
		return fmt.Errorf("default_quota_bytes must be positive")
	}
	if appCfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if appCfg.TrashRetention < 0 || appCfg.QuotaReconcile < 0 {
		return fmt.Errorf("trash_retention and quota_reconcile_interval must not be negative")
	}
	if appCfg.ShareMissLimit < 1 {
		return fmt.Errorf("share_miss_limit must be at least 1")
	}
	if appCfg.JobsEnabled {
		if appCfg.JobsWorkers < 1 {
			return fmt.Errorf("jobs_workers must be at least 1")
		}
		if appCfg.JobsMaxAttempts < 1 {
			return fmt.Errorf("jobs_max_attempts must be at least 1")
		}
		if appCfg.JobsRetryBase <= 0 || appCfg.JobsStallTimeout <= 0 || appCfg.JobsPollInterval <= 0 {
			return fmt.Errorf("jobs_retry_base, jobs_stall_timeout and jobs_poll_interval must be positive")
		}
	}
	if production && appCfg.APIKey != "" && len(appCfg.APIKey) < 24 {
		return fmt.Errorf("api_key must be at least 24 characters in production")
	}
	return nil
}
