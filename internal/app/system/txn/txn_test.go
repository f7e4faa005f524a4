package txn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dalemusser/stratadrive/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestIsNotSupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"code 20", mongo.CommandError{Code: 20, Message: "x"}, true},
		{"code 263 wrapped", fmt.Errorf("purge: %w", mongo.CommandError{Code: 263}), true},
		{"other code", mongo.CommandError{Code: 11000, Message: "duplicate key"}, false},
		{"replica set message", errors.New("Transaction numbers are only allowed on a replica set member or mongos"), true},
		{"unrelated transaction word", errors.New("transaction aborted: write conflict"), false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotSupported(tt.err); got != tt.want {
				t.Errorf("IsNotSupported(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRun_CommitsWork(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := Run(ctx, db, zap.NewNop(), func(ctx context.Context) error {
		if _, err := db.Collection("folders").InsertOne(ctx, bson.M{"name": "a"}); err != nil {
			return err
		}
		_, err := db.Collection("files").InsertOne(ctx, bson.M{"name": "b"})
		return err
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, coll := range []string{"folders", "files"} {
		n, _ := db.Collection(coll).CountDocuments(ctx, bson.M{})
		if n != 1 {
			t.Errorf("%s count = %d, want 1", coll, n)
		}
	}
}

func TestRun_ReturnsWorkError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	boom := errors.New("boom")
	err := Run(ctx, db, zap.NewNop(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want boom", err)
	}
}
