package version

import (
	"errors"
	"testing"

	"github.com/dalemusser/stratadrive/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Create_UniqueNumber(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fileID := primitive.NewObjectID()
	in := CreateInput{FileID: fileID, OwnerID: "owner-1", VersionNumber: 1, SizeBytes: 10, StorageRef: "blobs/1"}

	if _, err := store.Create(ctx, in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	in.StorageRef = "blobs/dup"
	if _, err := store.Create(ctx, in); !errors.Is(err, ErrConflict) {
		t.Errorf("Create() duplicate error = %v, want ErrConflict", err)
	}

	// Same number on another file is fine.
	in.FileID = primitive.NewObjectID()
	if _, err := store.Create(ctx, in); err != nil {
		t.Errorf("Create() other file error = %v", err)
	}
}

func TestStore_ListByFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fileID := primitive.NewObjectID()
	for _, n := range []int{2, 1, 3} {
		if _, err := store.Create(ctx, CreateInput{FileID: fileID, OwnerID: "o", VersionNumber: n, StorageRef: "b"}); err != nil {
			t.Fatalf("Create(%d) error = %v", n, err)
		}
	}

	versions, err := store.ListByFile(ctx, fileID)
	if err != nil {
		t.Fatalf("ListByFile() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("ListByFile() = %d versions, want 3", len(versions))
	}
	for i, v := range versions {
		if v.VersionNumber != i+1 {
			t.Errorf("versions[%d].VersionNumber = %d, want %d", i, v.VersionNumber, i+1)
		}
	}

	if _, err := store.Get(ctx, fileID, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(9) error = %v, want ErrNotFound", err)
	}

	n, err := store.DeleteByFiles(ctx, []primitive.ObjectID{fileID})
	if err != nil || n != 3 {
		t.Errorf("DeleteByFiles() = %d, %v; want 3, nil", n, err)
	}
}
