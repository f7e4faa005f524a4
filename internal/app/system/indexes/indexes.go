// Package indexes declares the MongoDB indexes each collection needs and
// reconciles them at startup.
package indexes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type plan struct {
	collection string
	models     []mongo.IndexModel
}

func idx(name string, keys bson.D) mongo.IndexModel {
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetName(name)}
}

func plans() []plan {
	return []plan{
		{"folders", []mongo.IndexModel{
			// Folder listing and BFS child lookups
			idx("idx_folder_owner_parent_status", bson.D{
				{Key: "owner_id", Value: 1}, {Key: "parent_id", Value: 1},
				{Key: "status", Value: 1}, {Key: "name_ci", Value: 1},
			}),
			idx("idx_folder_parent_status", bson.D{{Key: "parent_id", Value: 1}, {Key: "status", Value: 1}}),
			// Trash listing and auto-purge
			idx("idx_folder_status_trashed", bson.D{{Key: "status", Value: 1}, {Key: "trashed_at", Value: 1}}),
		}},
		{"files", []mongo.IndexModel{
			// Share tokens are unique while set; unshared files carry no token.
			{
				Keys: bson.D{{Key: "share_token", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"share_token": bson.M{"$type": "string"}}).
					SetName("uniq_file_share_token"),
			},
			idx("idx_file_is_public", bson.D{{Key: "is_public", Value: 1}}),
			// Folder listing, sorted by name
			idx("idx_file_owner_folder_status", bson.D{
				{Key: "owner_id", Value: 1}, {Key: "folder_id", Value: 1},
				{Key: "status", Value: 1}, {Key: "name_ci", Value: 1},
			}),
			// Cascades over folder ids
			idx("idx_file_folder_status", bson.D{{Key: "folder_id", Value: 1}, {Key: "status", Value: 1}}),
			idx("idx_file_status_trashed", bson.D{{Key: "status", Value: 1}, {Key: "trashed_at", Value: 1}}),
		}},
		{"file_versions", []mongo.IndexModel{
			// Gapless numbering: one document per (file, number)
			{
				Keys:    bson.D{{Key: "file_id", Value: 1}, {Key: "version_number", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_version_file_number"),
			},
		}},
		{"jobs", []mongo.IndexModel{
			idx("idx_job_claim", bson.D{
				{Key: "queue_name", Value: 1}, {Key: "status", Value: 1},
				{Key: "priority", Value: -1}, {Key: "scheduled_at", Value: 1},
			}),
			idx("idx_job_status_created", bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}),
			// Stall sweep
			idx("idx_job_status_started", bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: 1}}),
			idx("idx_job_payload_file", bson.D{{Key: "payload.file_id", Value: 1}}),
			// Retention cleanup
			idx("idx_job_status_finished", bson.D{{Key: "status", Value: 1}, {Key: "finished_at", Value: 1}}),
		}},
	}
}

/*
EnsureAll is called at startup and by test setup. It is idempotent.
Errors are aggregated across collections so one run shows every problem.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string
	for _, p := range plans() {
		if err := ensureIndexSet(ctx, db.Collection(p.collection), p.models); err != nil {
			problems = append(problems, p.collection+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type existingIndex struct {
	Name    string `bson:"name"`
	Key     bson.D `bson:"key"`
	Unique  bool   `bson:"unique"`
	Partial bson.D `bson:"partialFilterExpression,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

// sameOptions compares the options that change index semantics. Names are
// ignored so an index created by hand under another name is reused.
func sameOptions(want *options.IndexOptions, have existingIndex) bool {
	unique := want != nil && want.Unique != nil && *want.Unique
	if unique != have.Unique {
		return false
	}
	var wantPartial any
	if want != nil {
		wantPartial = want.PartialFilterExpression
	}
	if wantPartial == nil || have.Partial == nil {
		return wantPartial == nil && have.Partial == nil
	}
	a, errA := bson.Marshal(wantPartial)
	b, errB := bson.Marshal(have.Partial)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func listExisting(ctx context.Context, coll *mongo.Collection) map[string]existingIndex {
	out := map[string]existingIndex{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		// The collection may not exist yet.
		return out
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var ix existingIndex
		if err := cur.Decode(&ix); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()), zap.Error(err))
			continue
		}
		out[keySig(ix.Key)] = ix
	}
	return out
}

func isDuplicateKeyErr(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "E11000")
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing := listExisting(ctx, coll)
	var errs []string

	for _, m := range models {
		name := *m.Options.Name
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig))

		if have, ok := existing[sig]; ok {
			if sameOptions(m.Options, have) {
				log.Debug("index present", zap.String("existing_name", have.Name))
				continue
			}
			// Options changed (e.g. became unique): rebuild.
			if _, err := coll.Indexes().DropOne(ctx, have.Name); err != nil {
				errs = append(errs, fmt.Sprintf("%s: drop %s failed: %v", name, have.Name, err))
				continue
			}
			log.Info("dropped index with outdated options", zap.String("existing_name", have.Name))
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if isDuplicateKeyErr(err) {
				errs = append(errs, fmt.Sprintf("%s: cannot create unique index (duplicates present)", name))
			} else {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			}
			log.Warn("index ensure failed", zap.Error(err))
			continue
		}
		log.Info("index ensured", zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
