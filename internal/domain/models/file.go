package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Item status values shared by files and folders.
const (
	StatusActive  = "active"
	StatusTrashed = "trashed"
)

// File represents a user-owned file. Size and StoragePath always describe the
// current version.
type File struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	OwnerID        string              `bson:"owner_id" json:"owner_id"`
	FolderID       *primitive.ObjectID `bson:"folder_id,omitempty" json:"folder_id,omitempty"` // nil = root level
	Name           string              `bson:"name" json:"name"`
	NameCI         string              `bson:"name_ci" json:"-"` // Case-insensitive for sorting/search
	MimeType       string              `bson:"mime_type" json:"mime_type"`
	SizeBytes      int64               `bson:"size_bytes" json:"size_bytes"`
	CurrentVersion int                 `bson:"current_version" json:"current_version"`
	StoragePath    string              `bson:"storage_path" json:"-"` // Blob ref of the current version

	// Sharing. ShareToken is set if and only if IsPublic is true.
	IsPublic          bool    `bson:"is_public" json:"is_public"`
	ShareToken        *string `bson:"share_token,omitempty" json:"share_token,omitempty"`
	PublicAccessCount int64   `bson:"public_access_count" json:"public_access_count"`

	Status    string     `bson:"status" json:"status"`
	TrashedAt *time.Time `bson:"trashed_at,omitempty" json:"trashed_at,omitempty"`

	// Derived artifacts written back by the processing pipeline.
	ThumbnailPath      string         `bson:"thumbnail_path,omitempty" json:"thumbnail_path,omitempty"`
	TranscodePath      string         `bson:"transcode_path,omitempty" json:"transcode_path,omitempty"`
	Metadata           map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	AITags             []string       `bson:"ai_tags,omitempty" json:"ai_tags,omitempty"`
	ArtifactsUpdatedAt *time.Time     `bson:"artifacts_updated_at,omitempty" json:"artifacts_updated_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsTrashed reports whether the file is in the trash.
func (f *File) IsTrashed() bool {
	return f.Status == StatusTrashed
}
