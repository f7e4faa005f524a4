package lifecycle

import (
	"context"
	"errors"
	"time"

	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	"github.com/dalemusser/stratadrive/internal/app/system/txn"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/domain/trash"
	"github.com/dalemusser/waffle/pantry/storage"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// blobReleaseTimeout bounds best-effort blob deletion after a purge.
const blobReleaseTimeout = 30 * time.Second

func stateOf(status string) trash.State {
	if status == models.StatusTrashed {
		return trash.Trashed
	}
	return trash.Active
}

// TrashFile moves a file to the trash, releases its quota, and revokes its
// share link. Trashing a trashed file does nothing.
func (e *Engine) TrashFile(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		f, err := e.files.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, changed, err := trash.Next(stateOf(f.Status), trash.Trash); err != nil || !changed {
			return err
		}

		n, err := e.files.Trash(ctx, []primitive.ObjectID{f.ID}, time.Now().UTC())
		if err != nil {
			return err
		}
		if n == 1 {
			return e.quotas.Release(ctx, ownerID, f.SizeBytes)
		}
		return nil
	})
	return observe("trash_file", err)
}

// TrashFolder trashes a folder and every active folder and file below it in
// one operation. Released quota is the total size of the files it trashed.
func (e *Engine) TrashFolder(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	var nFolders, nFiles int64
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		nFolders, nFiles = 0, 0

		folder, err := e.folders.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, changed, err := trash.Next(stateOf(folder.Status), trash.Trash); err != nil || !changed {
			return err
		}

		folderIDs, err := e.subtree(ctx, folder.ID, models.StatusActive)
		if err != nil {
			return err
		}
		active, err := e.files.ListActiveInFolders(ctx, folderIDs)
		if err != nil {
			return err
		}

		fileIDs := make([]primitive.ObjectID, 0, len(active))
		var released int64
		for _, f := range active {
			fileIDs = append(fileIDs, f.ID)
			released += f.SizeBytes
		}

		now := time.Now().UTC()
		if nFiles, err = e.files.Trash(ctx, fileIDs, now); err != nil {
			return err
		}
		if nFolders, err = e.folders.Trash(ctx, folderIDs, now); err != nil {
			return err
		}
		return e.quotas.Release(ctx, ownerID, released)
	})
	if err == nil && nFolders > 0 {
		e.logger.Info("folder trashed",
			zap.String("folder_id", id.Hex()),
			zap.Int64("folders", nFolders),
			zap.Int64("files", nFiles))
	}
	return observe("trash_folder", err)
}

// RestoreFile brings a trashed file back. The file's folder must be active;
// restoring never reaches up the tree. The file's size is charged again.
func (e *Engine) RestoreFile(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		f, err := e.files.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, changed, err := trash.Next(stateOf(f.Status), trash.Restore); err != nil || !changed {
			return err
		}

		parentTrashed, err := e.parentTrashed(ctx, f.FolderID)
		if err != nil {
			return err
		}
		if err := trash.CheckRestore(parentTrashed); err != nil {
			return err
		}

		ok, err := e.files.Restore(ctx, f.ID)
		if err != nil || !ok {
			return err
		}
		return e.quotas.ForceCharge(ctx, ownerID, f.SizeBytes)
	})
	return observe("restore_file", err)
}

// RestoreFolder brings a trashed folder back. Its contents stay trashed and
// are restored individually.
func (e *Engine) RestoreFolder(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		folder, err := e.folders.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, changed, err := trash.Next(stateOf(folder.Status), trash.Restore); err != nil || !changed {
			return err
		}

		parentTrashed, err := e.parentTrashed(ctx, folder.ParentID)
		if err != nil {
			return err
		}
		if err := trash.CheckRestore(parentTrashed); err != nil {
			return err
		}

		_, err = e.folders.Restore(ctx, folder.ID)
		return err
	})
	return observe("restore_folder", err)
}

// PurgeFile permanently deletes a trashed file with all of its versions, then
// releases the blobs behind them.
func (e *Engine) PurgeFile(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	var refs []string
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		refs = nil

		f, err := e.files.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, _, err := trash.Next(stateOf(f.Status), trash.Purge); err != nil {
			return err
		}

		refs, err = e.purgeFiles(ctx, ownerID, []models.File{*f})
		return err
	})
	if err != nil {
		return observe("purge_file", err)
	}

	e.releaseBlobs(ctx, refs)
	return observe("purge_file", nil)
}

// PurgeFolder permanently deletes a trashed folder and everything below it.
func (e *Engine) PurgeFolder(ctx context.Context, ownerID string, id primitive.ObjectID) error {
	var refs []string
	var nFolders int
	err := txn.Run(ctx, e.db, e.logger, func(ctx context.Context) error {
		refs = nil

		folder, err := e.folders.GetOwned(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if _, _, err := trash.Next(stateOf(folder.Status), trash.Purge); err != nil {
			return err
		}

		folderIDs, err := e.subtree(ctx, folder.ID, "")
		if err != nil {
			return err
		}
		files, err := e.files.ListInFolders(ctx, folderIDs)
		if err != nil {
			return err
		}
		if refs, err = e.purgeFiles(ctx, ownerID, files); err != nil {
			return err
		}
		nFolders = len(folderIDs)
		_, err = e.folders.DeleteMany(ctx, folderIDs)
		return err
	})
	if err != nil {
		return observe("purge_folder", err)
	}

	e.logger.Info("folder purged",
		zap.String("folder_id", id.Hex()),
		zap.Int("folders", nFolders),
		zap.Int("blobs", len(refs)))

	e.releaseBlobs(ctx, refs)
	return observe("purge_folder", nil)
}

// purgeFiles deletes file and version records and returns every blob key
// they referenced. Trashed files were released from quota when trashed; any
// file still active is released here.
func (e *Engine) purgeFiles(ctx context.Context, ownerID string, files []models.File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}

	ids := make([]primitive.ObjectID, 0, len(files))
	seen := map[string]bool{}
	var refs []string
	addRef := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	var stillActive int64
	for _, f := range files {
		ids = append(ids, f.ID)
		addRef(f.StoragePath)
		addRef(f.ThumbnailPath)
		addRef(f.TranscodePath)
		if !f.IsTrashed() {
			stillActive += f.SizeBytes
		}
	}

	versions, err := e.versions.ListByFiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		addRef(v.StorageRef)
		for _, ref := range derivedKeys(v) {
			addRef(ref)
		}
	}

	if _, err := e.versions.DeleteByFiles(ctx, ids); err != nil {
		return nil, err
	}
	if _, err := e.files.DeleteMany(ctx, ids); err != nil {
		return nil, err
	}
	if err := e.quotas.Release(ctx, ownerID, stillActive); err != nil {
		return nil, err
	}
	return refs, nil
}

// releaseBlobs deletes blobs after their records are gone. Failures leave
// orphaned blobs behind and are logged, never returned.
func (e *Engine) releaseBlobs(ctx context.Context, refs []string) {
	if len(refs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), blobReleaseTimeout)
	defer cancel()

	for _, ref := range refs {
		if err := e.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("failed to delete blob",
				zap.String("path", ref),
				zap.Error(err))
		}
	}
}

// subtree returns root and the ids of folders below it, walking the tree
// breadth-first with one adjacency query per level. An empty status matches
// folders in any state.
func (e *Engine) subtree(ctx context.Context, root primitive.ObjectID, status string) ([]primitive.ObjectID, error) {
	all := []primitive.ObjectID{root}
	seen := map[primitive.ObjectID]bool{root: true}
	level := []primitive.ObjectID{root}

	for len(level) > 0 {
		children, err := e.folders.ListChildren(ctx, level, status)
		if err != nil {
			return nil, err
		}
		var next []primitive.ObjectID
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			next = append(next, c.ID)
			all = append(all, c.ID)
		}
		level = next
	}
	return all, nil
}

// parentTrashed reports whether folderID blocks a restore. A missing parent
// blocks too.
func (e *Engine) parentTrashed(ctx context.Context, folderID *primitive.ObjectID) (bool, error) {
	if folderID == nil {
		return false, nil
	}
	parent, err := e.folders.GetByID(ctx, *folderID)
	if err != nil {
		if errors.Is(err, folderstore.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return parent.IsTrashed(), nil
}

// TrashListing holds an owner's trashed items. Items inside a trashed folder
// are represented by that folder.
type TrashListing struct {
	Folders []models.Folder `json:"folders"`
	Files   []models.File   `json:"files"`
}

// ListTrash returns the top-level trashed items of an owner.
func (e *Engine) ListTrash(ctx context.Context, ownerID string) (*TrashListing, error) {
	folders, err := e.folders.ListTrashed(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	files, err := e.files.ListTrashed(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	trashed := make(map[primitive.ObjectID]bool, len(folders))
	for _, f := range folders {
		trashed[f.ID] = true
	}

	out := &TrashListing{Folders: []models.Folder{}, Files: []models.File{}}
	for _, f := range folders {
		if f.ParentID == nil || !trashed[*f.ParentID] {
			out.Folders = append(out.Folders, f)
		}
	}
	for _, f := range files {
		if f.FolderID == nil || !trashed[*f.FolderID] {
			out.Files = append(out.Files, f)
		}
	}
	return out, nil
}
