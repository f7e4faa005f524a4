// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"go.uber.org/zap"
)

// PurgeBatchSize bounds how many folders and files one trash-expiry pass
// purges, so a large backlog drains over several runs.
const PurgeBatchSize = 200

// QuotaReconcileTask recomputes storage usage from active files and corrects
// ledgers that drifted.
func QuotaReconcileTask(engine *lifecycle.Engine, logger *zap.Logger, interval time.Duration) Task {
	return Task{
		Name:     "quota-reconcile",
		Interval: interval,
		Run: func(ctx context.Context) error {
			corrections, err := engine.ReconcileQuotas(ctx)
			if err != nil {
				return err
			}
			if len(corrections) > 0 {
				logger.Info("quota reconciliation corrected ledgers",
					zap.Int("owners", len(corrections)))
			}
			return nil
		},
	}
}

// TrashExpiryTask purges items that have been in the trash longer than
// retention.
func TrashExpiryTask(engine *lifecycle.Engine, logger *zap.Logger, retention, interval time.Duration) Task {
	if retention <= 0 {
		interval = 0
	}
	return Task{
		Name:     "trash-expiry",
		Interval: interval,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-retention)
			purged, err := engine.PurgeExpired(ctx, cutoff, PurgeBatchSize)
			if purged > 0 {
				logger.Info("purged expired trash",
					zap.Int("items", purged),
					zap.Time("cutoff", cutoff))
			}
			return err
		},
	}
}
