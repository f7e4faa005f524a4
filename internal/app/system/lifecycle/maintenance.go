package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/dalemusser/stratadrive/internal/domain/quota"
	"go.uber.org/zap"
)

// Usage returns an owner's quota and current usage.
func (e *Engine) Usage(ctx context.Context, ownerID string) (quota.Usage, error) {
	return e.quotas.Get(ctx, ownerID)
}

// PurgeExpired purges items that have been in the trash since before cutoff,
// at most batch folders and batch files per call. Folders go first so their
// contents are purged with them.
func (e *Engine) PurgeExpired(ctx context.Context, cutoff time.Time, batch int64) (int, error) {
	purged := 0

	folders, err := e.folders.ListTrashedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}
	for _, f := range folders {
		if err := e.PurgeFolder(ctx, f.OwnerID, f.ID); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotTrashed) {
				continue
			}
			return purged, err
		}
		purged++
	}

	files, err := e.files.ListTrashedBefore(ctx, cutoff, batch)
	if err != nil {
		return purged, err
	}
	for _, f := range files {
		if err := e.PurgeFile(ctx, f.OwnerID, f.ID); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotTrashed) {
				continue
			}
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// ReconcileQuotas recomputes every owner's usage from active files and
// corrects ledgers that drifted. Ledgers are read before files, and each
// correction applies only if the ledger still holds the value read, so a
// write that commits mid-pass is never counted twice. Owners skipped that way
// are checked again on the next pass.
func (e *Engine) ReconcileQuotas(ctx context.Context) ([]quota.Correction, error) {
	recorded, err := e.quotas.UsedByOwner(ctx)
	if err != nil {
		return nil, err
	}
	actual, err := e.files.SumActiveByOwner(ctx)
	if err != nil {
		return nil, err
	}

	var applied []quota.Correction
	for _, c := range quota.Drift(recorded, actual) {
		ok, err := e.quotas.ApplyCorrection(ctx, c)
		if err != nil {
			return applied, err
		}
		if !ok {
			e.logger.Debug("quota ledger changed during reconcile, skipped",
				zap.String("owner_id", c.OwnerID))
			continue
		}
		metrics.QuotaCorrections.Inc()
		e.logger.Warn("quota drift corrected",
			zap.String("owner_id", c.OwnerID),
			zap.Int64("recorded", c.Recorded),
			zap.Int64("actual", c.Actual))
		applied = append(applied, c)
	}
	return applied, nil
}
