// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	quotastore "github.com/dalemusser/stratadrive/internal/app/store/quota"
	versionstore "github.com/dalemusser/stratadrive/internal/app/store/version"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
//
// Collections must exist before the lifecycle's multi-document transactions
// touch them, so this runs before any request is served.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure(folderstore.CollectionName, foldersSchema())
	ensure(filestore.CollectionName, filesSchema())
	ensure(versionstore.CollectionName, versionsSchema())
	ensure(quotastore.CollectionName, quotasSchema())
	ensure(jobstore.CollectionName, jobsSchema())
	ensure("share_link_misses", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
// Uses ListCollectionNames to avoid "created collection" log when it didn't.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		// NamespaceExists / already exists is fine (race or prior run).
		if isNamespaceExistsErr(err) {
			zap.L().Info("collection exists", zap.String("collection", name))
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var (
	nonBlank  = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}
	number    = bson.M{"bsonType": bson.A{"int", "long"}}
	nonNeg    = bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0}
	objectID  = bson.M{"bsonType": "objectId"}
	timestamp = bson.M{"bsonType": "date"}
	status    = bson.M{"enum": bson.A{models.StatusActive, models.StatusTrashed}}
)

func foldersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"owner_id", "name", "name_ci", "status", "created_at"},
			"properties": bson.M{
				"owner_id":   nonBlank,
				"parent_id":  bson.M{"bsonType": bson.A{"objectId", "null"}},
				"name":       nonBlank,
				"name_ci":    nonBlank,
				"status":     status,
				"trashed_at": bson.M{"bsonType": bson.A{"date", "null"}},
				"created_at": timestamp,
			},
		},
	}
}

func filesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"owner_id", "name", "name_ci", "mime_type", "size_bytes",
				"current_version", "storage_path", "is_public", "status", "created_at"},
			"properties": bson.M{
				"owner_id":            nonBlank,
				"folder_id":           bson.M{"bsonType": bson.A{"objectId", "null"}},
				"name":                nonBlank,
				"name_ci":             nonBlank,
				"mime_type":           nonBlank,
				"size_bytes":          nonNeg,
				"current_version":     bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1},
				"storage_path":        nonBlank,
				"is_public":           bson.M{"bsonType": "bool"},
				"share_token":         bson.M{"bsonType": bson.A{"string", "null"}},
				"public_access_count": nonNeg,
				"status":              status,
				"trashed_at":          bson.M{"bsonType": bson.A{"date", "null"}},
				"created_at":          timestamp,
			},
		},
	}
}

func versionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"file_id", "owner_id", "version_number", "size_bytes", "storage_ref", "created_at"},
			"properties": bson.M{
				"file_id":        objectID,
				"owner_id":       nonBlank,
				"version_number": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1},
				"size_bytes":     nonNeg,
				"storage_ref":    nonBlank,
				"created_at":     timestamp,
			},
		},
	}
}

func quotasSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"quota_bytes", "used_bytes"},
			"properties": bson.M{
				"_id":         nonBlank,
				"quota_bytes": nonNeg,
				"used_bytes":  number,
			},
		},
	}
}

func jobsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"queue_name", "job_type", "payload", "status", "attempts", "max_attempts"},
			"properties": bson.M{
				"queue_name": nonBlank,
				"job_type": bson.M{"enum": bson.A{
					jobstore.TypeGenerateThumbnail,
					jobstore.TypeExtractMetadata,
					jobstore.TypeTranscodeVideo,
					jobstore.TypeAnalyzeImage,
				}},
				"payload": bson.M{
					"bsonType": "object",
					"required": bson.A{"file_id", "owner_id", "storage_path", "mime_type"},
					"properties": bson.M{
						"file_id":      objectID,
						"owner_id":     nonBlank,
						"storage_path": nonBlank,
					},
				},
				"status": bson.M{"enum": bson.A{
					jobstore.StatusWaiting,
					jobstore.StatusActive,
					jobstore.StatusCompleted,
					jobstore.StatusFailed,
				}},
				"attempts":     nonNeg,
				"max_attempts": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1},
			},
		},
	}
}
