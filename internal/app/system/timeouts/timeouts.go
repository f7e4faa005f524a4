// Package timeouts holds the process-wide deadlines handlers and stores put
// on database and blob operations.
//
//	Ping    health probes
//	Short   single-document reads and writes
//	Medium  engine operations touching a few collections
//	Long    uploads, downloads and public streams
//	Batch   folder cascades and maintenance sweeps
package timeouts

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default timeout values (used if Configure is not called).
const (
	DefaultPing   = 2 * time.Second
	DefaultShort  = 5 * time.Second
	DefaultMedium = 10 * time.Second
	DefaultLong   = 5 * time.Minute
	DefaultBatch  = 2 * time.Minute
)

// Config holds timeout configuration values. Zero fields keep the current value.
type Config struct {
	Ping   time.Duration
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	Batch  time.Duration
}

func defaults() Config {
	return Config{
		Ping:   DefaultPing,
		Short:  DefaultShort,
		Medium: DefaultMedium,
		Long:   DefaultLong,
		Batch:  DefaultBatch,
	}
}

var (
	mu      sync.RWMutex
	current = defaults()
)

func get(pick func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return pick(current)
}

// Ping returns the timeout for health checks.
func Ping() time.Duration { return get(func(c Config) time.Duration { return c.Ping }) }

// Short returns the timeout for single-document operations.
func Short() time.Duration { return get(func(c Config) time.Duration { return c.Short }) }

// Medium returns the timeout for multi-collection engine operations.
func Medium() time.Duration { return get(func(c Config) time.Duration { return c.Medium }) }

// Long returns the timeout for content transfers.
func Long() time.Duration { return get(func(c Config) time.Duration { return c.Long }) }

// Batch returns the timeout for cascades and sweeps.
func Batch() time.Duration { return get(func(c Config) time.Duration { return c.Batch }) }

// Configure overrides the non-zero fields of cfg.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	for _, f := range fields(&current) {
		if v := f.of(cfg); v > 0 {
			*f.ptr = v
		}
	}
}

// Reset restores all timeouts to defaults.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	current = defaults()
}

// Current returns the current timeout configuration.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

type field struct {
	name string
	ptr  *time.Duration
	of   func(Config) time.Duration
}

func fields(c *Config) []field {
	return []field{
		{"PING", &c.Ping, func(c Config) time.Duration { return c.Ping }},
		{"SHORT", &c.Short, func(c Config) time.Duration { return c.Short }},
		{"MEDIUM", &c.Medium, func(c Config) time.Duration { return c.Medium }},
		{"LONG", &c.Long, func(c Config) time.Duration { return c.Long }},
		{"BATCH", &c.Batch, func(c Config) time.Duration { return c.Batch }},
	}
}

// FromEnv reads <prefix>_TIMEOUT_PING .. <prefix>_TIMEOUT_BATCH. Unset,
// unparsable and non-positive values are left zero.
func FromEnv(prefix string) Config {
	var cfg Config
	p := strings.TrimSuffix(prefix, "_")
	if p != "" {
		p += "_"
	}
	for _, f := range fields(&cfg) {
		v := os.Getenv(p + "TIMEOUT_" + f.name)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*f.ptr = d
		}
	}
	return cfg
}

// WithTimeout creates a context with timeout and logs when the deadline,
// rather than the caller, ended it.
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if ctx.Err() == context.DeadlineExceeded && parent.Err() == nil && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
