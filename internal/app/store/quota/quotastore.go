// Package quota provides the persisted per-owner storage ledger.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratadrive/internal/domain/quota"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for quota ledgers.
const CollectionName = "storage_quotas"

// ErrExceeded is returned when a charge would push usage past the quota.
var ErrExceeded = errors.New("storage quota exceeded")

type ledger struct {
	OwnerID      string     `bson:"_id"`
	QuotaBytes   int64      `bson:"quota_bytes"`
	UsedBytes    int64      `bson:"used_bytes"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	ReconciledAt *time.Time `bson:"reconciled_at,omitempty"`
}

// Store provides access to the storage_quotas collection.
type Store struct {
	c            *mongo.Collection
	defaultQuota int64
}

// New creates a quota store. Owners without a ledger start at defaultQuota.
func New(db *mongo.Database, defaultQuota int64) *Store {
	return &Store{
		c:            db.Collection(CollectionName),
		defaultQuota: defaultQuota,
	}
}

// ensure creates the owner's ledger if it does not exist yet.
func (s *Store) ensure(ctx context.Context, ownerID string) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": ownerID},
		bson.M{"$setOnInsert": bson.M{
			"quota_bytes": s.defaultQuota,
			"used_bytes":  int64(0),
			"updated_at":  time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race; the ledger now exists.
		return nil
	}
	return err
}

// Charge changes an owner's used bytes by delta. Increases are applied only
// when they fit within the quota, checked and applied in a single update so
// concurrent charges for one owner cannot overshoot. Decreases always apply.
func (s *Store) Charge(ctx context.Context, ownerID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if err := s.ensure(ctx, ownerID); err != nil {
		return err
	}

	filter := bson.M{"_id": ownerID}
	if delta > 0 {
		filter["$expr"] = bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$used_bytes", delta}},
			"$quota_bytes",
		}}
	}

	res, err := s.c.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"used_bytes": delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrExceeded
	}
	return nil
}

// Release lowers an owner's used bytes. It never fails on quota.
func (s *Store) Release(ctx context.Context, ownerID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return s.Charge(ctx, ownerID, -bytes)
}

// ForceCharge raises an owner's used bytes without a quota check. Restores use
// it: bytes that were charged before trashing are charged again unconditionally.
func (s *Store) ForceCharge(ctx context.Context, ownerID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := s.ensure(ctx, ownerID); err != nil {
		return err
	}
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": ownerID}, bson.M{
		"$inc": bson.M{"used_bytes": bytes},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	return err
}

// Get returns an owner's usage. Owners without a ledger report the default
// quota and zero usage.
func (s *Store) Get(ctx context.Context, ownerID string) (quota.Usage, error) {
	var l ledger
	err := s.c.FindOne(ctx, bson.M{"_id": ownerID}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return quota.Usage{OwnerID: ownerID, QuotaBytes: s.defaultQuota}, nil
		}
		return quota.Usage{}, err
	}
	return quota.Usage{OwnerID: l.OwnerID, QuotaBytes: l.QuotaBytes, UsedBytes: l.UsedBytes}, nil
}

// SetQuota sets an owner's quota limit. Existing usage is left as is even if
// it now exceeds the limit; further increases will be refused.
func (s *Store) SetQuota(ctx context.Context, ownerID string, quotaBytes int64) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": ownerID},
		bson.M{
			"$set":         bson.M{"quota_bytes": quotaBytes, "updated_at": time.Now().UTC()},
			"$setOnInsert": bson.M{"used_bytes": int64(0)},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// UsedByOwner returns the recorded used bytes of every ledger.
func (s *Store) UsedByOwner(ctx context.Context) (map[string]int64, error) {
	opts := options.Find().SetProjection(bson.M{"used_bytes": 1})
	cur, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]int64)
	for cur.Next(ctx) {
		var l ledger
		if err := cur.Decode(&l); err != nil {
			return nil, err
		}
		out[l.OwnerID] = l.UsedBytes
	}
	return out, cur.Err()
}

// ApplyCorrection sets a ledger to the correction's actual value, but only
// while it still holds the recorded value the correction was computed from.
// It reports false when a charge or release landed in between; that owner is
// left for the next pass.
func (s *Store) ApplyCorrection(ctx context.Context, c quota.Correction) (bool, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set":         bson.M{"used_bytes": c.Actual, "updated_at": now, "reconciled_at": now},
		"$setOnInsert": bson.M{"quota_bytes": s.defaultQuota},
	}
	// An owner with no ledger reads as zero.
	opts := options.Update().SetUpsert(c.Recorded == 0)

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": c.OwnerID, "used_bytes": c.Recorded}, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// The ledger exists and no longer reads zero.
			return false, nil
		}
		return false, err
	}
	return res.MatchedCount == 1 || res.UpsertedCount == 1, nil
}
