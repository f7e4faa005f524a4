// Package folder provides storage for an owner's folder tree.
package folder

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for folders.
const CollectionName = "folders"

// ErrNotFound is returned when a folder is not found.
var ErrNotFound = errors.New("folder not found")

// Store provides access to the folders collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new folder store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection(CollectionName),
	}
}

// CreateInput contains the input for creating a folder.
type CreateInput struct {
	OwnerID  string
	ParentID *primitive.ObjectID
	Name     string
}

// Create creates a new active folder.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Folder, error) {
	now := time.Now().UTC()
	folder := models.Folder{
		ID:        primitive.NewObjectID(),
		OwnerID:   input.OwnerID,
		ParentID:  input.ParentID,
		Name:      input.Name,
		NameCI:    text.Fold(input.Name),
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.c.InsertOne(ctx, folder); err != nil {
		return nil, err
	}

	return &folder, nil
}

// GetByID retrieves a folder by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Folder, error) {
	var folder models.Folder
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&folder); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &folder, nil
}

// GetOwned retrieves a folder by ID, treating folders of other owners as missing.
func (s *Store) GetOwned(ctx context.Context, ownerID string, id primitive.ObjectID) (*models.Folder, error) {
	var folder models.Folder
	err := s.c.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&folder)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &folder, nil
}

// Rename changes a folder's name.
func (s *Store) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"name":       name,
		"name_ci":    text.Fold(name),
		"updated_at": time.Now().UTC(),
	}})
	return err
}

// Move re-parents a folder (nil parentID = root).
func (s *Store) Move(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}}
	if parentID == nil {
		update["$unset"] = bson.M{"parent_id": ""}
	} else {
		update["$set"].(bson.M)["parent_id"] = *parentID
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Trash marks the given active folders as trashed.
func (s *Store) Trash(ctx context.Context, ids []primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.UpdateMany(ctx, bson.M{
		"_id":    bson.M{"$in": ids},
		"status": models.StatusActive,
	}, bson.M{"$set": bson.M{
		"status":     models.StatusTrashed,
		"trashed_at": at,
		"updated_at": at,
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Restore returns a trashed folder to the active state.
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

// DeleteMany deletes the given folders.
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

// ListOptions contains options for listing folders.
type ListOptions struct {
	SortBy    string // "name", "created_at", "updated_at"
	SortOrder int    // 1 = asc, -1 = desc
	Status    string // "" = active
}

// ListByParent returns an owner's folders within a parent folder.
// Pass nil for parentID to list root folders.
func (s *Store) ListByParent(ctx context.Context, ownerID string, parentID *primitive.ObjectID, opts ListOptions) ([]models.Folder, error) {
	status := opts.Status
	if status == "" {
		status = models.StatusActive
	}
	filter := bson.M{"owner_id": ownerID, "parent_id": parentID, "status": status}

	sortField := "name_ci"
	switch opts.SortBy {
	case "created_at", "date":
		sortField = "created_at"
	case "updated_at":
		sortField = "updated_at"
	}

	sortOrder := 1
	if opts.SortOrder != 0 {
		sortOrder = opts.SortOrder
	}

	findOpts := options.Find().SetSort(bson.D{{Key: sortField, Value: sortOrder}})
	return s.find(ctx, filter, findOpts)
}

// ListChildren returns the direct subfolders of any of parentIDs.
// An empty status matches every status.
func (s *Store) ListChildren(ctx context.Context, parentIDs []primitive.ObjectID, status string) ([]models.Folder, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{"parent_id": bson.M{"$in": parentIDs}}
	if status != "" {
		filter["status"] = status
	}
	return s.find(ctx, filter, nil)
}

// ListTrashed returns an owner's trashed folders, most recently trashed first.
func (s *Store) ListTrashed(ctx context.Context, ownerID string) ([]models.Folder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trashed_at", Value: -1}})
	return s.find(ctx, bson.M{"owner_id": ownerID, "status": models.StatusTrashed}, opts)
}

// ListTrashedBefore returns folders of any owner trashed before cutoff.
func (s *Store) ListTrashedBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.Folder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trashed_at", Value: 1}}).SetLimit(limit)
	return s.find(ctx, bson.M{
		"status":     models.StatusTrashed,
		"trashed_at": bson.M{"$lt": cutoff},
	}, opts)
}

// GetAncestors returns all ancestors of a folder, ordered from root to immediate parent.
func (s *Store) GetAncestors(ctx context.Context, id primitive.ObjectID) ([]models.Folder, error) {
	folder, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var ancestors []models.Folder
	seen := map[primitive.ObjectID]bool{folder.ID: true}

	currentParentID := folder.ParentID
	for currentParentID != nil {
		if seen[*currentParentID] {
			break
		}
		seen[*currentParentID] = true

		parent, err := s.GetByID(ctx, *currentParentID)
		if err != nil {
			return nil, err
		}
		ancestors = append([]models.Folder{*parent}, ancestors...)
		currentParentID = parent.ParentID
	}

	return ancestors, nil
}

// GetPath returns the full path of a folder (ancestors + the folder itself).
func (s *Store) GetPath(ctx context.Context, id primitive.ObjectID) ([]models.Folder, error) {
	folder, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ancestors, err := s.GetAncestors(ctx, id)
	if err != nil {
		return nil, err
	}

	return append(ancestors, *folder), nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Folder, error) {
	cursor, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var folders []models.Folder
	if err := cursor.All(ctx, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}
