package lifecycle

import (
	"context"
	"errors"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	versionstore "github.com/dalemusser/stratadrive/internal/app/store/version"
	"github.com/dalemusser/stratadrive/internal/app/system/txn"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/domain/quota"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// errVersionConflict means another writer took the next version number first.
var errVersionConflict = errors.New("version number taken by a concurrent writer")

// AddVersionInput describes new content for an existing file. StorageRef must
// be a fresh blob; versions never share or overwrite content.
type AddVersionInput struct {
	OwnerID     string
	FileID      primitive.ObjectID
	StorageRef  string
	SizeBytes   int64
	ContentHash string
	MimeType    string // type of the new content; empty keeps the file's
}

// AddVersion records new content as the file's next version. The quota moves
// by the difference between the new size and the previous current size.
func (e *Engine) AddVersion(ctx context.Context, in AddVersionInput) (*models.Version, error) {
	if in.OwnerID == "" || in.StorageRef == "" || in.SizeBytes < 0 {
		return nil, observe("add_version", ErrInvalidInput)
	}

	unlock := e.fileLock.Lock(in.FileID.Hex())
	defer unlock()

	var (
		v     *models.Version
		f     *models.File
		stale []string
		err   error
	)
	for attempt := 1; attempt <= e.cfg.VersionRetries; attempt++ {
		err = txn.RunWithFallback(ctx, e.db, e.logger,
			e.addVersionOnce(in, &v, &f, &stale, false),
			e.addVersionOnce(in, &v, &f, &stale, true))
		if !errors.Is(err, errVersionConflict) {
			break
		}
		e.logger.Debug("version number conflict, retrying",
			zap.String("file_id", in.FileID.Hex()),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, observe("add_version", err)
	}

	e.logger.Info("file version added",
		zap.String("file_id", f.ID.Hex()),
		zap.Int("version", v.VersionNumber),
		zap.Int64("size_bytes", v.SizeBytes))

	e.releaseBlobs(ctx, stale)
	e.enqueueArtifacts(ctx, f)
	observe("add_version", nil)
	return v, nil
}

func (e *Engine) addVersionOnce(in AddVersionInput, outV **models.Version, outF **models.File, outStale *[]string, compensate bool) txn.Func {
	return func(ctx context.Context) error {
		f, err := e.files.GetOwned(ctx, in.OwnerID, in.FileID)
		if err != nil {
			return err
		}
		if f.IsTrashed() {
			return ErrTrashed
		}

		delta := quota.VersionDelta(f.SizeBytes, in.SizeBytes)
		if err := e.quotas.Charge(ctx, in.OwnerID, delta); err != nil {
			return err
		}

		next := f.CurrentVersion + 1
		v, err := e.versions.Create(ctx, versionstore.CreateInput{
			FileID:        f.ID,
			OwnerID:       in.OwnerID,
			VersionNumber: next,
			SizeBytes:     in.SizeBytes,
			StorageRef:    in.StorageRef,
			ContentHash:   in.ContentHash,
			CreatedBy:     in.OwnerID,
		})
		if err != nil {
			if compensate {
				e.undoCharge(ctx, in.OwnerID, delta)
			}
			if errors.Is(err, versionstore.ErrConflict) {
				return errVersionConflict
			}
			return err
		}

		prev, err := e.files.AdvanceVersion(ctx, f.ID, f.CurrentVersion, filestore.AdvanceInput{
			SizeBytes:   in.SizeBytes,
			StoragePath: in.StorageRef,
			MimeType:    in.MimeType,
		})
		if err == nil && prev == nil {
			err = errVersionConflict
		}
		if err != nil {
			if compensate {
				_ = e.versions.Delete(ctx, v.ID)
				e.undoCharge(ctx, in.OwnerID, delta)
			}
			return err
		}

		f.CurrentVersion = next
		f.SizeBytes = in.SizeBytes
		f.StoragePath = in.StorageRef
		if in.MimeType != "" {
			f.MimeType = in.MimeType
		}
		f.ThumbnailPath, f.TranscodePath = "", ""
		f.Metadata, f.AITags, f.ArtifactsUpdatedAt = nil, nil, nil

		*outStale = artifactRefs(prev)
		*outV = v
		*outF = f
		return nil
	}
}

// ListVersions returns a file's history, oldest first.
func (e *Engine) ListVersions(ctx context.Context, ownerID string, fileID primitive.ObjectID) ([]models.Version, error) {
	if _, err := e.files.GetOwned(ctx, ownerID, fileID); err != nil {
		return nil, translate(err)
	}
	return e.versions.ListByFile(ctx, fileID)
}
