// internal/app/store/ratelimit/store.go
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Misses tracks unknown share tokens presented by one client.
type Misses struct {
	Key         string     `bson:"_id"`          // normalized client key (IP)
	Count       int        `bson:"count"`        // misses in the current window
	WindowStart time.Time  `bson:"window_start"` // start of the counting window
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	LastMiss    time.Time  `bson:"last_miss"` // TTL cleanup
}

// Store limits how many unknown share tokens a client may try.
// All methods fail open: a storage error never blocks a request.
type Store struct {
	c       *mongo.Collection
	maxMiss int
	window  time.Duration
	lockout time.Duration
	nowFunc func() time.Time
}

// New creates a Store that locks a client out for lockout after maxMiss
// misses within window.
func New(db *mongo.Database, maxMiss int, window, lockout time.Duration) *Store {
	return &Store{
		c:       db.Collection("share_link_misses"),
		maxMiss: maxMiss,
		window:  window,
		lockout: lockout,
		nowFunc: time.Now,
	}
}

// EnsureIndexes creates the TTL index that forgets idle clients after a day.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "last_miss", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(86400).SetName("idx_share_miss_ttl"),
	})
	return err
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *Store) load(ctx context.Context, key string) (*Misses, error) {
	var m Misses
	err := s.c.FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Allowed reports whether key may look up share tokens now. When it may
// not, lockedUntil says until when.
func (s *Store) Allowed(ctx context.Context, key string) (allowed bool, lockedUntil *time.Time) {
	m, err := s.load(ctx, normalizeKey(key))
	if err != nil || m == nil {
		return true, nil
	}
	if m.LockedUntil != nil && s.nowFunc().Before(*m.LockedUntil) {
		return false, m.LockedUntil
	}
	return true, nil
}

// RecordMiss counts one unknown token for key and reports whether the
// client is now locked out.
func (s *Store) RecordMiss(ctx context.Context, key string) (lockedOut bool, lockedUntil *time.Time) {
	key = normalizeKey(key)
	now := s.nowFunc()

	m, err := s.load(ctx, key)
	if err != nil {
		return false, nil
	}
	if m == nil || now.After(m.WindowStart.Add(s.window)) {
		m = &Misses{Key: key, WindowStart: now}
	}
	m.Count++
	m.LastMiss = now
	if m.Count >= s.maxMiss {
		until := now.Add(s.lockout)
		m.LockedUntil = &until
		lockedOut, lockedUntil = true, &until
	}

	_, _ = s.c.ReplaceOne(ctx, bson.M{"_id": key}, m, options.Replace().SetUpsert(true))
	return lockedOut, lockedUntil
}

// Get returns the record for key, or nil.
func (s *Store) Get(ctx context.Context, key string) (*Misses, error) {
	return s.load(ctx, normalizeKey(key))
}
