// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration. WAFFLE's CoreConfig covers
// ports, TLS, logging, CORS and request limits.
//
// AppConfig is passed to every lifecycle hook, so anything needed during
// startup, request handling, or shutdown lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// Caller identity (Bearer JWT, HS256; sub = owner id)
	JWTSecret string
	JWTIssuer string // required "iss" when set

	// Operator API key for the queue endpoints. Empty disables them.
	APIKey string

	// Proxy headers (X-Forwarded-For, X-Real-IP) are trusted only when set.
	TrustProxy bool

	// Blob storage configuration
	StorageType      string // Storage backend: "local" or "s3"
	StorageLocalPath string // Local storage path (e.g., "./data/blobs")

	// S3/CloudFront configuration (only used if StorageType is "s3")
	StorageS3Region    string
	StorageS3Bucket    string
	StorageS3Prefix    string
	StorageCFURL       string
	StorageCFKeyPairID string
	StorageCFKeyPath   string

	// File lifecycle
	DefaultQuotaBytes int64         // quota for owners without a ledger
	MaxUploadBytes    int64         // largest accepted upload
	TrashRetention    time.Duration // auto-purge age; 0 disables
	QuotaReconcile    time.Duration // reconciliation interval; 0 disables
	ThumbnailMaxDim   int

	// Share-link guessing protection (misses per client IP)
	ShareMissLimit   int
	ShareMissWindow  time.Duration
	ShareMissLockout time.Duration

	// Job runner
	JobsEnabled       bool
	JobsWorkers       int
	JobsPollInterval  time.Duration
	JobsMaxAttempts   int
	JobsRetryBase     time.Duration
	JobsRetryCap      time.Duration
	JobsStallTimeout  time.Duration
	JobsRetention     time.Duration
	QueueBusyWaiting  int64 // waiting jobs at which a queue reports busy
	QueueMaxFailed    int64 // failed jobs above which a queue reports unhealthy
}
