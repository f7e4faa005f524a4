package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Version is an immutable content revision of a file. Version numbers start
// at 1 and are gapless per file.
type Version struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FileID        primitive.ObjectID `bson:"file_id" json:"file_id"`
	OwnerID       string             `bson:"owner_id" json:"owner_id"`
	VersionNumber int                `bson:"version_number" json:"version_number"`
	SizeBytes     int64              `bson:"size_bytes" json:"size_bytes"`
	StorageRef    string             `bson:"storage_ref" json:"-"`
	ContentHash   string             `bson:"content_hash,omitempty" json:"content_hash,omitempty"` // blake2b-256, hex
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	CreatedBy     string             `bson:"created_by" json:"created_by"`
}
