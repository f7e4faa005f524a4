// Package version provides storage for immutable file versions.
package version

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for file versions.
const CollectionName = "file_versions"

var (
	// ErrNotFound is returned when a version is not found.
	ErrNotFound = errors.New("version not found")
	// ErrConflict is returned when the version number is already taken.
	ErrConflict = errors.New("version number already exists")
)

// Store provides access to the file_versions collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new version store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection(CollectionName),
	}
}

// CreateInput contains the input for recording a version.
type CreateInput struct {
	FileID        primitive.ObjectID
	OwnerID       string
	VersionNumber int
	SizeBytes     int64
	StorageRef    string
	ContentHash   string
	CreatedBy     string
}

// Create records a version. The unique (file_id, version_number) index turns
// a concurrent writer with the same number into ErrConflict.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Version, error) {
	v := models.Version{
		ID:            primitive.NewObjectID(),
		FileID:        input.FileID,
		OwnerID:       input.OwnerID,
		VersionNumber: input.VersionNumber,
		SizeBytes:     input.SizeBytes,
		StorageRef:    input.StorageRef,
		ContentHash:   input.ContentHash,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     input.CreatedBy,
	}

	if _, err := s.c.InsertOne(ctx, v); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &v, nil
}

// Get returns a specific version of a file.
func (s *Store) Get(ctx context.Context, fileID primitive.ObjectID, number int) (*models.Version, error) {
	var v models.Version
	err := s.c.FindOne(ctx, bson.M{"file_id": fileID, "version_number": number}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// ListByFile returns all versions of a file in ascending version order.
func (s *Store) ListByFile(ctx context.Context, fileID primitive.ObjectID) ([]models.Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version_number", Value: 1}})
	cursor, err := s.c.Find(ctx, bson.M{"file_id": fileID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var versions []models.Version
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// ListByFiles returns every version belonging to any of fileIDs.
func (s *Store) ListByFiles(ctx context.Context, fileIDs []primitive.ObjectID) ([]models.Version, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.c.Find(ctx, bson.M{"file_id": bson.M{"$in": fileIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var versions []models.Version
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// Delete removes a single version record.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// DeleteByFiles removes every version of the given files.
func (s *Store) DeleteByFiles(ctx context.Context, fileIDs []primitive.ObjectID) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"file_id": bson.M{"$in": fileIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
