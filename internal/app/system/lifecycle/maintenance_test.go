package lifecycle

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/domain/quota"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReconcileQuotas(t *testing.T) {
	fx := newFixture(t)
	fx.createFile("alice", nil, "a.txt", "text/plain", 100)
	fx.createFile("bob", nil, "b.txt", "text/plain", 40)

	// Simulate drift left by an interrupted non-transactional write.
	if err := fx.engine.quotas.ForceCharge(fx.ctx, "alice", 123); err != nil {
		t.Fatalf("ForceCharge() error = %v", err)
	}

	corrections, err := fx.engine.ReconcileQuotas(fx.ctx)
	if err != nil {
		t.Fatalf("ReconcileQuotas() error = %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %+v, want 1", corrections)
	}
	c := corrections[0]
	if c.OwnerID != "alice" || c.Recorded != 223 || c.Actual != 100 {
		t.Errorf("correction = %+v, want alice 223 -> 100", c)
	}
	if got := fx.used("alice"); got != 100 {
		t.Errorf("used = %d, want 100", got)
	}
	if got := fx.used("bob"); got != 40 {
		t.Errorf("bob used = %d, want 40", got)
	}

	again, _ := fx.engine.ReconcileQuotas(fx.ctx)
	if len(again) != 0 {
		t.Errorf("second reconcile = %+v, want none", again)
	}
}

func TestReconcileQuotas_WriteBetweenReads(t *testing.T) {
	fx := newFixture(t)
	fx.createFile("alice", nil, "a.txt", "text/plain", 100)
	if err := fx.engine.quotas.ForceCharge(fx.ctx, "alice", 7); err != nil {
		t.Fatalf("ForceCharge() error = %v", err)
	}

	// The pass reads the ledger, then an upload commits, then the pass sums
	// files: the upload shows up in actual but not in recorded.
	recorded, err := fx.engine.quotas.UsedByOwner(fx.ctx)
	if err != nil {
		t.Fatalf("UsedByOwner() error = %v", err)
	}
	fx.createFile("alice", nil, "b.txt", "text/plain", 50)
	actual, err := fx.engine.files.SumActiveByOwner(fx.ctx)
	if err != nil {
		t.Fatalf("SumActiveByOwner() error = %v", err)
	}

	for _, c := range quota.Drift(recorded, actual) {
		ok, err := fx.engine.quotas.ApplyCorrection(fx.ctx, c)
		if err != nil {
			t.Fatalf("ApplyCorrection() error = %v", err)
		}
		if ok {
			t.Errorf("correction %+v applied over a ledger that changed", c)
		}
	}
	if got := fx.used("alice"); got != 157 {
		t.Errorf("used = %d, want 157 (untouched)", got)
	}

	// The next pass sees consistent reads and removes only the real drift.
	if _, err := fx.engine.ReconcileQuotas(fx.ctx); err != nil {
		t.Fatalf("ReconcileQuotas() error = %v", err)
	}
	if got := fx.used("alice"); got != 150 {
		t.Errorf("used = %d, want 150", got)
	}
}

func TestApplyArtifacts_DropsStale(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "cat.png", "image/png", 10)
	oldPath := f.StoragePath

	if _, err := fx.engine.AddVersion(fx.ctx, AddVersionInput{
		OwnerID: "alice", FileID: f.ID,
		StorageRef: fx.upload("alice", "cat.png", 11), SizeBytes: 11,
	}); err != nil {
		t.Fatalf("AddVersion() error = %v", err)
	}

	applied, err := fx.engine.ApplyArtifacts(fx.ctx, f.ID, oldPath, ArtifactUpdate{ThumbnailPath: "thumbnails/old.jpg"})
	if err != nil {
		t.Fatalf("ApplyArtifacts() error = %v", err)
	}
	if applied {
		t.Error("artifact for superseded content must be dropped")
	}

	cur, _ := fx.engine.GetFile(fx.ctx, "alice", f.ID)
	applied, err = fx.engine.ApplyArtifacts(fx.ctx, f.ID, cur.StoragePath, ArtifactUpdate{
		ThumbnailPath: "thumbnails/new.jpg",
		AITags:        []string{"cat"},
	})
	if err != nil || !applied {
		t.Fatalf("ApplyArtifacts(current) = %v, %v; want true, nil", applied, err)
	}
	cur, _ = fx.engine.GetFile(fx.ctx, "alice", f.ID)
	if cur.ThumbnailPath != "thumbnails/new.jpg" || len(cur.AITags) != 1 {
		t.Errorf("artifacts = %q %v", cur.ThumbnailPath, cur.AITags)
	}

	applied, _ = fx.engine.ApplyArtifacts(fx.ctx, primitive.NewObjectID(), "x", ArtifactUpdate{ThumbnailPath: "t"})
	if applied {
		t.Error("artifact for a missing file must be dropped")
	}
}

// TestQuotaMatchesActiveFiles runs a seeded random mix of operations and
// checks after each one that the ledger equals the sum of active file sizes.
func TestQuotaMatchesActiveFiles(t *testing.T) {
	fx := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	const owner = "prop"

	var files []primitive.ObjectID
	var folders []primitive.ObjectID
	pick := func(ids []primitive.ObjectID) primitive.ObjectID { return ids[rng.Intn(len(ids))] }
	folderArg := func() *primitive.ObjectID {
		if len(folders) == 0 || rng.Intn(2) == 0 {
			return nil
		}
		id := pick(folders)
		return &id
	}
	expected := func(err error) bool {
		return err == nil ||
			errors.Is(err, ErrQuotaExceeded) ||
			errors.Is(err, ErrTrashed) ||
			errors.Is(err, ErrNotTrashed) ||
			errors.Is(err, ErrNotFound) ||
			errors.Is(err, ErrInvalidParent)
	}

	var prev int64
	for step := 0; step < 150; step++ {
		size := rng.Int63n(3_000_000)
		var op string
		var err error

		switch n := rng.Intn(8); {
		case n == 0 || len(files) == 0:
			op = "create_file"
			var f *models.File
			f, err = fx.engine.CreateFile(fx.ctx, CreateFileInput{
				OwnerID: owner, FolderID: folderArg(), Name: "f.bin",
				StorageRef: fx.upload(owner, "f.bin", size), SizeBytes: size,
			})
			if f != nil {
				files = append(files, f.ID)
			}
		case n == 1:
			op = "create_folder"
			var f *models.Folder
			f, err = fx.engine.CreateFolder(fx.ctx, owner, folderArg(), "d")
			if f != nil {
				folders = append(folders, f.ID)
			}
		case n == 2:
			op = "add_version"
			_, err = fx.engine.AddVersion(fx.ctx, AddVersionInput{
				OwnerID: owner, FileID: pick(files),
				StorageRef: fx.upload(owner, "v.bin", size), SizeBytes: size,
			})
		case n == 3:
			op = "trash_file"
			err = fx.engine.TrashFile(fx.ctx, owner, pick(files))
		case n == 4:
			op = "restore_file"
			err = fx.engine.RestoreFile(fx.ctx, owner, pick(files))
		case n == 5:
			op = "purge_file"
			err = fx.engine.PurgeFile(fx.ctx, owner, pick(files))
		case n == 6 && len(folders) > 0:
			op = "trash_folder"
			err = fx.engine.TrashFolder(fx.ctx, owner, pick(folders))
		default:
			op = "restore_folder"
			if len(folders) > 0 {
				err = fx.engine.RestoreFolder(fx.ctx, owner, pick(folders))
			}
		}

		if !expected(err) {
			t.Fatalf("step %d %s: unexpected error %v", step, op, err)
		}
		used, actual := fx.used(owner), fx.activeSum(owner)
		if used != actual {
			t.Fatalf("step %d %s: ledger %d != active sum %d", step, op, used, actual)
		}
		if err == nil && used > testQuota && prev <= testQuota && (op == "create_file" || op == "add_version") {
			t.Fatalf("step %d %s: used %d pushed past quota", step, op, used)
		}
		prev = used
	}
}
