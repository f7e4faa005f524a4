// Package file provides storage for file metadata.
package file

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for file records.
const CollectionName = "files"

var (
	// ErrNotFound is returned when a file is not found.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateToken is returned when a share token is already in use.
	ErrDuplicateToken = errors.New("share token already in use")
)

// Store provides access to the files collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new file store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection(CollectionName),
	}
}

// CreateInput contains the input for creating a file.
type CreateInput struct {
	OwnerID     string
	FolderID    *primitive.ObjectID
	Name        string
	MimeType    string
	SizeBytes   int64
	StoragePath string
}

// Create creates a new active file record at version 1.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.File, error) {
	now := time.Now().UTC()
	file := models.File{
		ID:             primitive.NewObjectID(),
		OwnerID:        input.OwnerID,
		FolderID:       input.FolderID,
		Name:           input.Name,
		NameCI:         text.Fold(input.Name),
		MimeType:       input.MimeType,
		SizeBytes:      input.SizeBytes,
		CurrentVersion: 1,
		StoragePath:    input.StoragePath,
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := s.c.InsertOne(ctx, file); err != nil {
		return nil, err
	}

	return &file, nil
}

// GetByID retrieves a file by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.File, error) {
	var file models.File
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// GetOwned retrieves a file by ID, treating files of other owners as missing.
func (s *Store) GetOwned(ctx context.Context, ownerID string, id primitive.ObjectID) (*models.File, error) {
	var file models.File
	err := s.c.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// GetByShareToken retrieves the active, public file holding token.
func (s *Store) GetByShareToken(ctx context.Context, token string) (*models.File, error) {
	var file models.File
	err := s.c.FindOne(ctx, bson.M{
		"share_token": token,
		"is_public":   true,
		"status":      models.StatusActive,
	}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// AdvanceInput describes the content a file moves to.
type AdvanceInput struct {
	SizeBytes   int64
	StoragePath string
	MimeType    string // empty keeps the current type
}

// artifactFields are derived from one content and cleared when it changes.
var artifactFields = bson.M{
	"thumbnail_path":       "",
	"transcode_path":       "",
	"metadata":             "",
	"ai_tags":              "",
	"artifacts_updated_at": "",
}

// AdvanceVersion moves an active file from version expected to expected+1,
// pointing it at the new content and dropping artifacts of the old one. It
// returns the file as it was before the change, or nil when the file is no
// longer at version expected (or is no longer active), so the caller can
// retry.
func (s *Store) AdvanceVersion(ctx context.Context, id primitive.ObjectID, expected int, in AdvanceInput) (*models.File, error) {
	set := bson.M{
		"current_version": expected + 1,
		"size_bytes":      in.SizeBytes,
		"storage_path":    in.StoragePath,
		"updated_at":      time.Now().UTC(),
	}
	if in.MimeType != "" {
		set["mime_type"] = in.MimeType
	}

	var prev models.File
	err := s.c.FindOneAndUpdate(ctx, bson.M{
		"_id":             id,
		"status":          models.StatusActive,
		"current_version": expected,
	}, bson.M{"$set": set, "$unset": artifactFields}).Decode(&prev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// Rename changes a file's name.
func (s *Store) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"name":       name,
		"name_ci":    text.Fold(name),
		"updated_at": time.Now().UTC(),
	}})
	return err
}

// Move places a file in folderID (nil = root).
func (s *Store) Move(ctx context.Context, id primitive.ObjectID, folderID *primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}}
	if folderID == nil {
		update["$unset"] = bson.M{"folder_id": ""}
	} else {
		update["$set"].(bson.M)["folder_id"] = *folderID
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Trash moves the given active files to the trash and clears their share
// links. Files that are already trashed are left untouched.
func (s *Store) Trash(ctx context.Context, ids []primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.UpdateMany(ctx, bson.M{
		"_id":    bson.M{"$in": ids},
		"status": models.StatusActive,
	}, bson.M{
		"$set": bson.M{
			"status":              models.StatusTrashed,
			"trashed_at":          at,
			"is_public":           false,
			"public_access_count": 0,
			"updated_at":          at,
		},
		"$unset": bson.M{"share_token": ""},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Restore returns a trashed file to the active state.
func (s *Store) Restore(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": models.StatusTrashed,
	}, bson.M{
		"$set":   bson.M{"status": models.StatusActive, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"trashed_at": ""},
	})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// Delete deletes a file record.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteMany deletes the given file records.
func (s *Store) DeleteMany(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// EnableShare makes an active, non-public file public under token and resets
// its access counter. It reports false when the file is not in that state.
// ErrDuplicateToken is returned when another file already holds token.
func (s *Store) EnableShare(ctx context.Context, id primitive.ObjectID, token string) (bool, error) {
	res, err := s.c.UpdateOne(ctx, bson.M{
		"_id":       id,
		"status":    models.StatusActive,
		"is_public": false,
	}, bson.M{"$set": bson.M{
		"is_public":           true,
		"share_token":         token,
		"public_access_count": 0,
		"updated_at":          time.Now().UTC(),
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, ErrDuplicateToken
		}
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// DisableShare revokes a file's share token. The access counter is kept as a
// historical value until the file is shared again.
func (s *Store) DisableShare(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"is_public": false, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"share_token": ""},
	})
	return err
}

// RecordPublicAccess atomically increments the access counter of the active,
// public file holding token and returns the updated file.
func (s *Store) RecordPublicAccess(ctx context.Context, token string) (*models.File, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var file models.File
	err := s.c.FindOneAndUpdate(ctx, bson.M{
		"share_token": token,
		"is_public":   true,
		"status":      models.StatusActive,
	}, bson.M{"$inc": bson.M{"public_access_count": 1}}, opts).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &file, nil
}

// ArtifactUpdate carries derived-artifact results from the processing pipeline.
// Zero-valued fields are left unchanged.
type ArtifactUpdate struct {
	ThumbnailPath string
	TranscodePath string
	Metadata      map[string]any
	AITags        []string
}

// IsEmpty reports whether the update carries nothing to write.
func (u ArtifactUpdate) IsEmpty() bool {
	return u.ThumbnailPath == "" && u.TranscodePath == "" && len(u.Metadata) == 0 && len(u.AITags) == 0
}

// ApplyArtifacts writes artifacts to a file only while storagePath is still
// its current content. It reports false when the file has moved on to a newer
// version (or no longer exists), in which case nothing is written.
func (s *Store) ApplyArtifacts(ctx context.Context, id primitive.ObjectID, storagePath string, u ArtifactUpdate) (bool, error) {
	now := time.Now().UTC()
	set := bson.M{"artifacts_updated_at": now}
	if u.ThumbnailPath != "" {
		set["thumbnail_path"] = u.ThumbnailPath
	}
	if u.TranscodePath != "" {
		set["transcode_path"] = u.TranscodePath
	}
	for k, v := range u.Metadata {
		set["metadata."+k] = v
	}
	if len(u.AITags) > 0 {
		set["ai_tags"] = u.AITags
	}

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "storage_path": storagePath}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// ListOptions contains options for listing files.
type ListOptions struct {
	SortBy    string // "name", "created_at", "size", "mime_type"
	SortOrder int    // 1 = asc, -1 = desc
	MimeType  string // Prefix match (e.g., "image/")
	Status    string // "" = active
}

// ListByFolder returns an owner's files within a folder.
// Pass nil for folderID to list root-level files.
func (s *Store) ListByFolder(ctx context.Context, ownerID string, folderID *primitive.ObjectID, opts ListOptions) ([]models.File, error) {
	status := opts.Status
	if status == "" {
		status = models.StatusActive
	}
	filter := bson.M{"owner_id": ownerID, "folder_id": folderID, "status": status}

	if opts.MimeType != "" {
		filter["mime_type"] = bson.M{"$regex": "^" + regexp.QuoteMeta(opts.MimeType)}
	}

	sortField := "name_ci"
	switch opts.SortBy {
	case "created_at", "date":
		sortField = "created_at"
	case "size":
		sortField = "size_bytes"
	case "mime_type", "type":
		sortField = "mime_type"
	}

	sortOrder := 1
	if opts.SortOrder != 0 {
		sortOrder = opts.SortOrder
	}

	findOpts := options.Find().SetSort(bson.D{{Key: sortField, Value: sortOrder}})
	return s.find(ctx, filter, findOpts)
}

// ListActiveInFolders returns the active files directly inside any of folderIDs.
func (s *Store) ListActiveInFolders(ctx context.Context, folderIDs []primitive.ObjectID) ([]models.File, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{
		"folder_id": bson.M{"$in": folderIDs},
		"status":    models.StatusActive,
	}, nil)
}

// ListInFolders returns every file directly inside any of folderIDs.
func (s *Store) ListInFolders(ctx context.Context, folderIDs []primitive.ObjectID) ([]models.File, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	return s.find(ctx, bson.M{"folder_id": bson.M{"$in": folderIDs}}, nil)
}

// ListTrashed returns an owner's trashed files, most recently trashed first.
func (s *Store) ListTrashed(ctx context.Context, ownerID string) ([]models.File, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trashed_at", Value: -1}})
	return s.find(ctx, bson.M{"owner_id": ownerID, "status": models.StatusTrashed}, opts)
}

// ListTrashedBefore returns files of any owner trashed before cutoff.
func (s *Store) ListTrashedBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.File, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trashed_at", Value: 1}}).SetLimit(limit)
	return s.find(ctx, bson.M{
		"status":     models.StatusTrashed,
		"trashed_at": bson.M{"$lt": cutoff},
	}, opts)
}

// SumActiveByOwner returns the total size of active files per owner.
func (s *Store) SumActiveByOwner(ctx context.Context) (map[string]int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"status": models.StatusActive}},
		{"$group": bson.M{"_id": "$owner_id", "total": bson.M{"$sum": "$size_bytes"}}},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]int64)
	for cur.Next(ctx) {
		var row struct {
			OwnerID string `bson:"_id"`
			Total   int64  `bson:"total"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.OwnerID] = row.Total
	}
	return out, cur.Err()
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.File, error) {
	cursor, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []models.File
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// FileTypeCategory returns a category string for a MIME type.
func FileTypeCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case mimeType == "application/pdf":
		return "pdf"
	case strings.Contains(mimeType, "spreadsheet") || strings.Contains(mimeType, "excel"):
		return "spreadsheet"
	case strings.Contains(mimeType, "document") || strings.Contains(mimeType, "word"):
		return "document"
	case strings.Contains(mimeType, "presentation") || strings.Contains(mimeType, "powerpoint"):
		return "presentation"
	case strings.Contains(mimeType, "zip") || strings.Contains(mimeType, "compressed") || strings.Contains(mimeType, "archive"):
		return "archive"
	default:
		return "file"
	}
}
