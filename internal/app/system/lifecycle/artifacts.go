package lifecycle

import (
	"context"
	"errors"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ArtifactUpdate carries worker results back to a file.
type ArtifactUpdate = filestore.ArtifactUpdate

// ApplyArtifacts records derived artifacts for the content at storagePath.
// If the file has since moved to another version, or is gone, the update is
// dropped and applied is false; this is not an error.
func (e *Engine) ApplyArtifacts(ctx context.Context, fileID primitive.ObjectID, storagePath string, u ArtifactUpdate) (applied bool, err error) {
	if u.IsEmpty() {
		return true, nil
	}

	applied, err = e.files.ApplyArtifacts(ctx, fileID, storagePath, u)
	if err != nil {
		return false, observe("apply_artifacts", err)
	}
	if !applied {
		metrics.ArtifactsDropped.Inc()
		e.logger.Info("artifact dropped for superseded content",
			zap.String("file_id", fileID.Hex()),
			zap.String("storage_path", storagePath))
	}
	return applied, observe("apply_artifacts", nil)
}

// IsCurrent reports whether storagePath is still the current content of the
// file. Workers use it to tell a vanished blob from a transient read error.
func (e *Engine) IsCurrent(ctx context.Context, fileID primitive.ObjectID, storagePath string) (bool, error) {
	f, err := e.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return f.StoragePath == storagePath, nil
}

// artifactRefs returns the derived blobs recorded on f.
func artifactRefs(f *models.File) []string {
	var refs []string
	for _, ref := range []string{f.ThumbnailPath, f.TranscodePath} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// derivedKeys returns every artifact key workers may have written for one
// version's content, whether or not it was ever recorded on the file.
func derivedKeys(v models.Version) []string {
	id := v.FileID.Hex()
	return []string{blobstore.ThumbnailKey(id, v.StorageRef), blobstore.TranscodeKey(id, v.StorageRef)}
}
