package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	"github.com/dalemusser/stratadrive/internal/app/system/metrics"
	"github.com/dalemusser/stratadrive/internal/app/system/sharetoken"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SetSharing enables or disables the public link of an active file.
// Enabling an already public file keeps its token; enabling again after a
// disable issues a new token and restarts the access counter.
func (e *Engine) SetSharing(ctx context.Context, ownerID string, id primitive.ObjectID, enabled bool) (*models.File, error) {
	f, err := e.files.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, observe("set_sharing", err)
	}
	if f.IsTrashed() {
		return nil, observe("set_sharing", ErrTrashed)
	}

	if !enabled {
		if err := e.files.DisableShare(ctx, id); err != nil {
			return nil, observe("set_sharing", err)
		}
		f, err = e.files.GetOwned(ctx, ownerID, id)
		return f, observe("set_sharing", err)
	}

	if f.IsPublic {
		return f, observe("set_sharing", nil)
	}

	for attempt := 1; attempt <= e.cfg.ShareTokenRetries; attempt++ {
		token, err := e.tokens.Generate()
		if err != nil {
			return nil, observe("set_sharing", fmt.Errorf("generate share token: %w", err))
		}

		ok, err := e.files.EnableShare(ctx, id, token)
		if errors.Is(err, filestore.ErrDuplicateToken) {
			metrics.ShareTokenCollisions.Inc()
			e.logger.Warn("share token collision, regenerating",
				zap.String("file_id", id.Hex()),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, observe("set_sharing", err)
		}

		// A concurrent request may have shared or trashed the file; the
		// re-read reflects whichever won.
		f, err = e.files.GetOwned(ctx, ownerID, id)
		if err != nil {
			return nil, observe("set_sharing", err)
		}
		if !ok && f.IsTrashed() {
			return nil, observe("set_sharing", ErrTrashed)
		}
		return f, observe("set_sharing", nil)
	}

	return nil, observe("set_sharing", fmt.Errorf("share token: %w", ErrAlreadyExists))
}

// RecordPublicAccess counts one unauthenticated read of the file behind token
// and returns it. Unknown, revoked, and trashed links are ErrNotFound.
func (e *Engine) RecordPublicAccess(ctx context.Context, token string) (*models.File, error) {
	if !sharetoken.Valid(token) {
		return nil, observe("public_access", ErrNotFound)
	}
	f, err := e.files.RecordPublicAccess(ctx, token)
	if err != nil {
		return nil, observe("public_access", err)
	}
	return f, observe("public_access", nil)
}

// OpenPublic resolves a share token and opens the current version for
// streaming. The access counter moves only once the content is readable, so
// failed reads are not counted. The caller closes the reader.
func (e *Engine) OpenPublic(ctx context.Context, token string) (*models.File, io.ReadCloser, error) {
	if !sharetoken.Valid(token) {
		return nil, nil, observe("public_access", ErrNotFound)
	}
	f, err := e.files.GetByShareToken(ctx, token)
	if err != nil {
		return nil, nil, observe("public_access", err)
	}

	rc, err := e.blobs.Get(ctx, f.StoragePath)
	if err != nil {
		return nil, nil, observe("public_access", fmt.Errorf("open blob %s: %w", f.StoragePath, err))
	}

	counted, err := e.files.RecordPublicAccess(ctx, token)
	if err != nil {
		rc.Close()
		return nil, nil, observe("public_access", err)
	}
	if counted.StoragePath != f.StoragePath {
		// A new version landed between lookup and count; serve it instead.
		rc.Close()
		if rc, err = e.blobs.Get(ctx, counted.StoragePath); err != nil {
			return nil, nil, observe("public_access", fmt.Errorf("open blob %s: %w", counted.StoragePath, err))
		}
	}
	return counted, rc, observe("public_access", nil)
}
