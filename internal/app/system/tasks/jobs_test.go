package tasks_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/tasks"
	"github.com/dalemusser/stratadrive/internal/testutil"
	"go.uber.org/zap"
)

func TestTrashExpiryTask(t *testing.T) {
	db := testutil.SetupTestDB(t)
	blobs := testutil.NewBlobStore()
	engine := lifecycle.New(db, blobs, lifecycle.Config{DefaultQuotaBytes: 1 << 20}, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	blobs.Put(ctx, "files/a", strings.NewReader("abc"), nil)
	f, err := engine.CreateFile(ctx, lifecycle.CreateFileInput{
		OwnerID: "owner-1", Name: "a.txt", MimeType: "text/plain",
		StorageRef: "files/a", SizeBytes: 3,
	})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := engine.TrashFile(ctx, "owner-1", f.ID); err != nil {
		t.Fatalf("TrashFile() error = %v", err)
	}

	runner := tasks.New(zap.NewNop())
	runner.Register(tasks.TrashExpiryTask(engine, zap.NewNop(), time.Hour, time.Hour))

	// Within retention: nothing is purged.
	if err := runner.RunOnce(ctx, "trash-expiry"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if _, err := engine.GetFile(ctx, "owner-1", f.ID); err != nil {
		t.Errorf("file purged too early: %v", err)
	}

	runner = tasks.New(zap.NewNop())
	runner.Register(tasks.TrashExpiryTask(engine, zap.NewNop(), time.Nanosecond, time.Hour))
	time.Sleep(10 * time.Millisecond)
	if err := runner.RunOnce(ctx, "trash-expiry"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if _, err := engine.GetFile(ctx, "owner-1", f.ID); err == nil {
		t.Error("expired file should be purged")
	}
	if testutil.BlobExists(t, blobs, "files/a") {
		t.Error("purged blob should be deleted")
	}
}

func TestTrashExpiryTask_DisabledWithoutRetention(t *testing.T) {
	task := tasks.TrashExpiryTask(nil, zap.NewNop(), 0, time.Hour)
	if task.Interval != 0 {
		t.Errorf("Interval = %v, want 0 (disabled)", task.Interval)
	}
}

func TestQuotaReconcileTask(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := lifecycle.New(db, testutil.NewBlobStore(), lifecycle.Config{DefaultQuotaBytes: 1 << 20}, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := engine.CreateFile(ctx, lifecycle.CreateFileInput{
		OwnerID: "owner-1", Name: "a.bin", StorageRef: "files/a", SizeBytes: 10,
	}); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	engine.Quotas().ForceCharge(ctx, "owner-1", 500)

	runner := tasks.New(zap.NewNop())
	runner.Register(tasks.QuotaReconcileTask(engine, zap.NewNop(), time.Hour))
	if err := runner.RunOnce(ctx, "quota-reconcile"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	usage, _ := engine.Usage(ctx, "owner-1")
	if usage.UsedBytes != 10 {
		t.Errorf("UsedBytes = %d, want 10", usage.UsedBytes)
	}
}
