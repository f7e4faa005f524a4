package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Folder represents a folder in an owner's tree. Children reference their
// parent through ParentID / File.FolderID; a folder never stores its children.
type Folder struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	OwnerID   string              `bson:"owner_id" json:"owner_id"`
	ParentID  *primitive.ObjectID `bson:"parent_id,omitempty" json:"parent_id,omitempty"` // nil = root folder
	Name      string              `bson:"name" json:"name"`
	NameCI    string              `bson:"name_ci" json:"-"`
	Status    string              `bson:"status" json:"status"`
	TrashedAt *time.Time          `bson:"trashed_at,omitempty" json:"trashed_at,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsTrashed reports whether the folder is in the trash.
func (f *Folder) IsTrashed() bool {
	return f.Status == StatusTrashed
}
