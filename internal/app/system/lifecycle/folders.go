package lifecycle

import (
	"context"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	"github.com/dalemusser/stratadrive/internal/app/system/htmlsanitize"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CreateFolder creates an active folder under parentID (nil = root).
func (e *Engine) CreateFolder(ctx context.Context, ownerID string, parentID *primitive.ObjectID, name string) (*models.Folder, error) {
	cleaned, err := htmlsanitize.CleanName(name)
	if err != nil {
		return nil, observe("create_folder", err)
	}
	if ownerID == "" {
		return nil, observe("create_folder", ErrInvalidInput)
	}
	if err := e.checkParent(ctx, ownerID, parentID); err != nil {
		return nil, observe("create_folder", err)
	}

	folder, err := e.folders.Create(ctx, folderstore.CreateInput{
		OwnerID:  ownerID,
		ParentID: parentID,
		Name:     cleaned,
	})
	if err != nil {
		return nil, observe("create_folder", err)
	}
	observe("create_folder", nil)
	return folder, nil
}

// GetFolder returns a folder the owner holds, trashed or not.
func (e *Engine) GetFolder(ctx context.Context, ownerID string, id primitive.ObjectID) (*models.Folder, error) {
	folder, err := e.folders.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, translate(err)
	}
	return folder, nil
}

// RenameFolder renames an active folder.
func (e *Engine) RenameFolder(ctx context.Context, ownerID string, id primitive.ObjectID, name string) (*models.Folder, error) {
	cleaned, err := htmlsanitize.CleanName(name)
	if err != nil {
		return nil, observe("rename_folder", err)
	}

	folder, err := e.folders.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, observe("rename_folder", err)
	}
	if folder.IsTrashed() {
		return nil, observe("rename_folder", ErrTrashed)
	}
	if err := e.folders.Rename(ctx, id, cleaned); err != nil {
		return nil, observe("rename_folder", err)
	}

	folder.Name = cleaned
	observe("rename_folder", nil)
	return folder, nil
}

// MoveFolder re-parents an active folder. Moving a folder into itself or into
// any of its descendants is rejected, which keeps the tree acyclic.
func (e *Engine) MoveFolder(ctx context.Context, ownerID string, id primitive.ObjectID, parentID *primitive.ObjectID) (*models.Folder, error) {
	folder, err := e.folders.GetOwned(ctx, ownerID, id)
	if err != nil {
		return nil, observe("move_folder", err)
	}
	if folder.IsTrashed() {
		return nil, observe("move_folder", ErrTrashed)
	}
	if err := e.checkParent(ctx, ownerID, parentID); err != nil {
		return nil, observe("move_folder", err)
	}

	if parentID != nil {
		if *parentID == id {
			return nil, observe("move_folder", ErrInvalidParent)
		}
		ancestors, err := e.folders.GetAncestors(ctx, *parentID)
		if err != nil {
			return nil, observe("move_folder", err)
		}
		for _, a := range ancestors {
			if a.ID == id {
				return nil, observe("move_folder", ErrInvalidParent)
			}
		}
	}

	if err := e.folders.Move(ctx, id, parentID); err != nil {
		return nil, observe("move_folder", err)
	}

	folder.ParentID = parentID
	observe("move_folder", nil)
	return folder, nil
}

// Listing is the content of one folder (or the root).
type Listing struct {
	Folder  *models.Folder  `json:"folder,omitempty"` // nil for the root
	Path    []models.Folder `json:"path"`             // root first, excluding Folder
	Folders []models.Folder `json:"folders"`
	Files   []models.File   `json:"files"`
}

// ListOptions controls sorting and filtering of a listing.
type ListOptions struct {
	SortBy    string
	SortOrder int
	MimeType  string
}

// ListFolder returns the active subfolders and files of folderID (nil = root).
func (e *Engine) ListFolder(ctx context.Context, ownerID string, folderID *primitive.ObjectID, opts ListOptions) (*Listing, error) {
	out := &Listing{Path: []models.Folder{}}

	if folderID != nil {
		folder, err := e.folders.GetOwned(ctx, ownerID, *folderID)
		if err != nil {
			return nil, translate(err)
		}
		if folder.IsTrashed() {
			return nil, ErrTrashed
		}
		ancestors, err := e.folders.GetAncestors(ctx, folder.ID)
		if err != nil {
			return nil, err
		}
		out.Folder = folder
		if ancestors != nil {
			out.Path = ancestors
		}
	}

	folders, err := e.folders.ListByParent(ctx, ownerID, folderID, folderstore.ListOptions{
		SortBy:    opts.SortBy,
		SortOrder: opts.SortOrder,
	})
	if err != nil {
		return nil, err
	}
	files, err := e.files.ListByFolder(ctx, ownerID, folderID, filestore.ListOptions{
		SortBy:    opts.SortBy,
		SortOrder: opts.SortOrder,
		MimeType:  opts.MimeType,
	})
	if err != nil {
		return nil, err
	}

	out.Folders = nonNil(folders)
	out.Files = nonNil(files)
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
