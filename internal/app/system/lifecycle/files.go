package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	versionstore "github.com/dalemusser/stratadrive/internal/app/store/version"
	"github.com/dalemusser/stratadrive/internal/app/system/htmlsanitize"
	"github.com/dalemusser/stratadrive/internal/app/system/txn"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultMimeType is used when an upload carries no content type.
const DefaultMimeType = "application/octet-stream"

// CreateFileInput describes a new file and its first version. StorageRef must
// already hold the uploaded content.
type CreateFileInput struct {
	OwnerID     string
	FolderID    *primitive.ObjectID // nil = root
	Name        string
	MimeType    string
	StorageRef  string
	SizeBytes   int64
	ContentHash string
}

// CreateFile creates a file with version 1 and charges its size to the
// owner's quota.
func (e *Engine) CreateFile(ctx context.Context, in CreateFileInput) (*models.File, error) {
	name, err := htmlsanitize.CleanName(in.Name)
	if err != nil {
		return nil, observe("create_file", err)
	}
	if in.OwnerID == "" || in.StorageRef == "" || in.SizeBytes < 0 {
		return nil, observe("create_file", ErrInvalidInput)
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	var created *models.File
	run := func(compensate bool) txn.Func {
		return func(ctx context.Context) error {
			created = nil
			if err := e.checkParent(ctx, in.OwnerID, in.FolderID); err != nil {
				return err
			}
			if err := e.quotas.Charge(ctx, in.OwnerID, in.SizeBytes); err != nil {
				return err
			}

			f, err := e.files.Create(ctx, filestore.CreateInput{
				OwnerID:     in.OwnerID,
				FolderID:    in.FolderID,
				Name:        name,
				MimeType:    mimeType,
				SizeBytes:   in.SizeBytes,
				StoragePath: in.StorageRef,
			})
			if err != nil {
				if compensate {
					e.undoCharge(ctx, in.OwnerID, in.SizeBytes)
				}
				return err
			}

			if _, err := e.versions.Create(ctx, versionstore.CreateInput{
				FileID:        f.ID,
				OwnerID:       in.OwnerID,
				VersionNumber: 1,
				SizeBytes:     in.SizeBytes,
				StorageRef:    in.StorageRef,
				ContentHash:   in.ContentHash,
				CreatedBy:     in.OwnerID,
			}); err != nil {
				if compensate {
					_ = e.files.Delete(ctx, f.ID)
					e.undoCharge(ctx, in.OwnerID, in.SizeBytes)
				}
				return err
			}

			created = f
			return nil
		}
	}

	if err := txn.RunWithFallback(ctx, e.db, e.logger, run(false), run(true)); err != nil {
		return nil, observe("create_file", err)
	}

	e.logger.Info("file created",
		zap.String("file_id", created.ID.Hex()),
		zap.String("owner_id", created.OwnerID),
		zap.Int64("size_bytes", created.SizeBytes))

	e.enqueueArtifacts(ctx, created)
	observe("create_file", nil)
	return created, nil
}

// GetFile returns a file the owner holds, trashed or not.
func (e *Engine) GetFile(ctx context.Context, ownerID string, id primitive.ObjectID) (*models.File, error) {
	f, err := e.files.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

// OpenFile returns an active file with a reader over its current version.
// The caller closes the reader.
func (e *Engine) OpenFile(ctx context.Context, ownerID string, id primitive.ObjectID) (*models.File, io.ReadCloser, error) {
	f, err := e.files.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, nil, translate(err)
	}
	if f.IsTrashed() {
		return nil, nil, ErrTrashed
	}
	rc, err := e.blobs.Get(ctx, f.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob %s: %w", f.StoragePath, err)
	}
	return f, rc, nil
}

// RenameFile renames an active file.
func (e *Engine) RenameFile(ctx context.Context, ownerID string, id primitive.ObjectID, name string) (*models.File, error) {
	cleaned, err := htmlsanitize.CleanName(name)
	if err != nil {
		return nil, observe("rename_file", err)
	}

	f, err := e.files.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, observe("rename_file", err)
	}
	if f.IsTrashed() {
		return nil, observe("rename_file", ErrTrashed)
	}
	if err := e.files.Rename(ctx, id, cleaned); err != nil {
		return nil, observe("rename_file", err)
	}

	f.Name = cleaned
	observe("rename_file", nil)
	return f, nil
}

// MoveFile places an active file into folderID (nil = root). The share link,
// versions, and artifacts move with it.
func (e *Engine) MoveFile(ctx context.Context, ownerID string, id primitive.ObjectID, folderID *primitive.ObjectID) (*models.File, error) {
	f, err := e.files.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, observe("move_file", err)
	}
	if f.IsTrashed() {
		return nil, observe("move_file", ErrTrashed)
	}
	if err := e.checkParent(ctx, ownerID, folderID); err != nil {
		return nil, observe("move_file", err)
	}
	if err := e.files.Move(ctx, id, folderID); err != nil {
		return nil, observe("move_file", err)
	}

	f.FolderID = folderID
	observe("move_file", nil)
	return f, nil
}

// checkParent accepts the root (nil) or an active folder of the same owner.
func (e *Engine) checkParent(ctx context.Context, ownerID string, folderID *primitive.ObjectID) error {
	if folderID == nil {
		return nil
	}
	folder, err := e.folders.GetOwned(ctx, ownerID, *folderID)
	if err != nil {
		if errors.Is(err, folderstore.ErrNotFound) {
			return ErrInvalidParent
		}
		return err
	}
	if folder.IsTrashed() {
		return ErrInvalidParent
	}
	return nil
}

// undoCharge reverses a quota change made outside a transaction.
func (e *Engine) undoCharge(ctx context.Context, ownerID string, delta int64) {
	var err error
	switch {
	case delta > 0:
		err = e.quotas.Release(ctx, ownerID, delta)
	case delta < 0:
		err = e.quotas.ForceCharge(ctx, ownerID, -delta)
	}
	if err != nil {
		e.logger.Warn("failed to undo quota change",
			zap.String("owner_id", ownerID),
			zap.Int64("delta", delta),
			zap.Error(err))
	}
}
