package lifecycle

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReportLifecycle(t *testing.T) {
	fx := newFixture(t)

	f := fx.createFile("alice", nil, "report.pdf", "application/pdf", 1_000_000)
	if got := fx.used("alice"); got != 1_000_000 {
		t.Errorf("used after create = %d, want 1000000", got)
	}

	v, err := fx.engine.AddVersion(fx.ctx, AddVersionInput{
		OwnerID:    "alice",
		FileID:     f.ID,
		StorageRef: fx.upload("alice", "report.pdf", 500_000),
		SizeBytes:  500_000,
	})
	if err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}
	if v.VersionNumber != 2 {
		t.Errorf("VersionNumber = %d, want 2", v.VersionNumber)
	}
	if got := fx.used("alice"); got != 500_000 {
		t.Errorf("used after new version = %d, want 500000", got)
	}

	if err := fx.engine.TrashFile(fx.ctx, "alice", f.ID); err != nil {
		t.Fatalf("TrashFile() error = %v", err)
	}
	if got := fx.used("alice"); got != 0 {
		t.Errorf("used after trash = %d, want 0", got)
	}

	if err := fx.engine.PurgeFile(fx.ctx, "alice", f.ID); err != nil {
		t.Fatalf("PurgeFile() error = %v", err)
	}
	if got := fx.used("alice"); got != 0 {
		t.Errorf("used after purge = %d, want 0", got)
	}

	versions, err := fx.engine.versions.ListByFile(fx.ctx, f.ID)
	if err != nil {
		t.Fatalf("ListByFile() error = %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("versions after purge = %d, want 0", len(versions))
	}
	if _, err := fx.engine.GetFile(fx.ctx, "alice", f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile() after purge error = %v, want ErrNotFound", err)
	}
	if keys := testutil.BlobKeys(t, fx.blobs, ""); len(keys) != 0 {
		t.Errorf("blobs after purge = %v, want none", keys)
	}
}

func TestCreateFile_QuotaExceeded(t *testing.T) {
	fx := newFixture(t)

	fx.createFile("bob", nil, "big.bin", "", testQuota-10)

	_, err := fx.engine.CreateFile(fx.ctx, CreateFileInput{
		OwnerID:    "bob",
		Name:       "more.bin",
		StorageRef: fx.upload("bob", "more.bin", 11),
		SizeBytes:  11,
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("CreateFile() error = %v, want ErrQuotaExceeded", err)
	}
	if got := fx.used("bob"); got != testQuota-10 {
		t.Errorf("used = %d, want unchanged %d", got, testQuota-10)
	}

	listing, _ := fx.engine.ListFolder(fx.ctx, "bob", nil, ListOptions{})
	if len(listing.Files) != 1 {
		t.Errorf("files = %d, want 1 (rejected file must not exist)", len(listing.Files))
	}
}

func TestCreateFile_InvalidParent(t *testing.T) {
	fx := newFixture(t)

	trashed := fx.createFolder("alice", nil, "old")
	if err := fx.engine.TrashFolder(fx.ctx, "alice", trashed.ID); err != nil {
		t.Fatalf("TrashFolder() error = %v", err)
	}
	foreign := fx.createFolder("mallory", nil, "theirs")

	tests := []struct {
		name   string
		folder *primitive.ObjectID
	}{
		{"trashed folder", &trashed.ID},
		{"other owner's folder", &foreign.ID},
		{"missing folder", ptr(primitive.NewObjectID())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.engine.CreateFile(fx.ctx, CreateFileInput{
				OwnerID:    "alice",
				FolderID:   tt.folder,
				Name:       "a.txt",
				StorageRef: "blobs/a",
				SizeBytes:  1,
			})
			if !errors.Is(err, ErrInvalidParent) {
				t.Errorf("CreateFile() error = %v, want ErrInvalidParent", err)
			}
		})
	}
	if got := fx.used("alice"); got != 0 {
		t.Errorf("used = %d, want 0", got)
	}
}

func TestCreateFile_InvalidInput(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		in   CreateFileInput
	}{
		{"empty name", CreateFileInput{OwnerID: "a", Name: "  ", StorageRef: "b", SizeBytes: 1}},
		{"no owner", CreateFileInput{Name: "x", StorageRef: "b", SizeBytes: 1}},
		{"no storage", CreateFileInput{OwnerID: "a", Name: "x", SizeBytes: 1}},
		{"negative size", CreateFileInput{OwnerID: "a", Name: "x", StorageRef: "b", SizeBytes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.engine.CreateFile(fx.ctx, tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("CreateFile() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAddVersion_ConcurrentGapless(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "notes.txt", "text/plain", 10)

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.engine.AddVersion(fx.ctx, AddVersionInput{
				OwnerID:    "alice",
				FileID:     f.ID,
				StorageRef: fx.upload("alice", "notes.txt", int64(20+i)),
				SizeBytes:  int64(20 + i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("AddVersion() error = %v", err)
		}
	}

	versions, err := fx.engine.ListVersions(fx.ctx, "alice", f.ID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != writers+1 {
		t.Fatalf("versions = %d, want %d", len(versions), writers+1)
	}
	for i, v := range versions {
		if v.VersionNumber != i+1 {
			t.Errorf("versions[%d] = %d, want %d", i, v.VersionNumber, i+1)
		}
	}

	got, _ := fx.engine.GetFile(fx.ctx, "alice", f.ID)
	if got.CurrentVersion != writers+1 {
		t.Errorf("CurrentVersion = %d, want %d", got.CurrentVersion, writers+1)
	}
	last := versions[len(versions)-1]
	if got.StoragePath != last.StorageRef || got.SizeBytes != last.SizeBytes {
		t.Error("file must describe its latest version")
	}
	if used := fx.used("alice"); used != got.SizeBytes {
		t.Errorf("used = %d, want current size %d", used, got.SizeBytes)
	}
}

func TestAddVersion_Errors(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "a.txt", "text/plain", 100)

	_, err := fx.engine.AddVersion(fx.ctx, AddVersionInput{OwnerID: "bob", FileID: f.ID, StorageRef: "x", SizeBytes: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddVersion() by other owner error = %v, want ErrNotFound", err)
	}

	_, err = fx.engine.AddVersion(fx.ctx, AddVersionInput{OwnerID: "alice", FileID: f.ID, StorageRef: "x", SizeBytes: testQuota + 1})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("AddVersion() over quota error = %v, want ErrQuotaExceeded", err)
	}

	fx.engine.TrashFile(fx.ctx, "alice", f.ID)
	_, err = fx.engine.AddVersion(fx.ctx, AddVersionInput{OwnerID: "alice", FileID: f.ID, StorageRef: "x", SizeBytes: 1})
	if !errors.Is(err, ErrTrashed) {
		t.Errorf("AddVersion() on trashed file error = %v, want ErrTrashed", err)
	}

	versions, _ := fx.engine.ListVersions(fx.ctx, "alice", f.ID)
	if len(versions) != 1 {
		t.Errorf("versions = %d, want 1 (failed attempts leave no history)", len(versions))
	}
}

func TestRenameAndMoveFile(t *testing.T) {
	fx := newFixture(t)
	docs := fx.createFolder("alice", nil, "Docs")
	f := fx.createFile("alice", nil, "draft.txt", "text/plain", 5)

	renamed, err := fx.engine.RenameFile(fx.ctx, "alice", f.ID, "<b>final</b>.txt")
	if err != nil {
		t.Fatalf("RenameFile() error = %v", err)
	}
	if renamed.Name != "final.txt" {
		t.Errorf("Name = %q, want final.txt", renamed.Name)
	}

	if _, err := fx.engine.MoveFile(fx.ctx, "alice", f.ID, &docs.ID); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}
	listing, err := fx.engine.ListFolder(fx.ctx, "alice", &docs.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListFolder() error = %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Name != "final.txt" {
		t.Errorf("Docs listing = %+v, want final.txt", listing.Files)
	}

	if _, err := fx.engine.MoveFile(fx.ctx, "alice", f.ID, nil); err != nil {
		t.Fatalf("MoveFile(root) error = %v", err)
	}
	got, _ := fx.engine.GetFile(fx.ctx, "alice", f.ID)
	if got.FolderID != nil {
		t.Error("file should be in root")
	}

	fx.engine.TrashFile(fx.ctx, "alice", f.ID)
	if _, err := fx.engine.RenameFile(fx.ctx, "alice", f.ID, "x.txt"); !errors.Is(err, ErrTrashed) {
		t.Errorf("RenameFile() on trashed error = %v, want ErrTrashed", err)
	}
}

func TestOpenFile(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "a.txt", "text/plain", 3)

	got, rc, err := fx.engine.OpenFile(fx.ctx, "alice", f.ID)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "xxx" {
		t.Errorf("body = %q, want xxx", body)
	}
	if got.Status != models.StatusActive {
		t.Errorf("Status = %q", got.Status)
	}

	if _, _, err := fx.engine.OpenFile(fx.ctx, "eve", f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenFile() by other owner error = %v, want ErrNotFound", err)
	}
}
