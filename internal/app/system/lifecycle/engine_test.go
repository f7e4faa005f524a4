package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/testutil"
	"github.com/dalemusser/waffle/pantry/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const testQuota = 10_000_000

type fixture struct {
	t      *testing.T
	db     *mongo.Database
	engine *Engine
	blobs  *storage.Memory
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	blobs := testutil.NewBlobStore()
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)

	e := New(db, blobs, Config{DefaultQuotaBytes: testQuota}, zap.NewNop())
	return &fixture{t: t, db: db, engine: e, blobs: blobs, ctx: ctx}
}

// upload stores size bytes of content and returns the blob key.
func (fx *fixture) upload(owner, name string, size int64) string {
	fx.t.Helper()
	key := blobstore.VersionKey(owner, name, time.Now())
	if err := fx.blobs.Put(fx.ctx, key, strings.NewReader(strings.Repeat("x", int(size%4096))), nil); err != nil {
		fx.t.Fatalf("Put() error = %v", err)
	}
	return key
}

func (fx *fixture) createFile(owner string, folder *primitive.ObjectID, name, mime string, size int64) *models.File {
	fx.t.Helper()
	f, err := fx.engine.CreateFile(fx.ctx, CreateFileInput{
		OwnerID:    owner,
		FolderID:   folder,
		Name:       name,
		MimeType:   mime,
		StorageRef: fx.upload(owner, name, size),
		SizeBytes:  size,
	})
	if err != nil {
		fx.t.Fatalf("CreateFile(%q) error = %v", name, err)
	}
	return f
}

func (fx *fixture) createFolder(owner string, parent *primitive.ObjectID, name string) *models.Folder {
	fx.t.Helper()
	f, err := fx.engine.CreateFolder(fx.ctx, owner, parent, name)
	if err != nil {
		fx.t.Fatalf("CreateFolder(%q) error = %v", name, err)
	}
	return f
}

func (fx *fixture) used(owner string) int64 {
	fx.t.Helper()
	u, err := fx.engine.Usage(fx.ctx, owner)
	if err != nil {
		fx.t.Fatalf("Usage() error = %v", err)
	}
	return u.UsedBytes
}

// activeSum is the ground truth the ledger must match.
func (fx *fixture) activeSum(owner string) int64 {
	fx.t.Helper()
	sums, err := fx.engine.files.SumActiveByOwner(fx.ctx)
	if err != nil {
		fx.t.Fatalf("SumActiveByOwner() error = %v", err)
	}
	return sums[owner]
}

func (fx *fixture) jobCount(fileID primitive.ObjectID) map[string]int {
	fx.t.Helper()
	cur, err := fx.db.Collection(jobstore.CollectionName).Find(fx.ctx, bson.M{"payload.file_id": fileID})
	if err != nil {
		fx.t.Fatalf("Find(jobs) error = %v", err)
	}
	var jobs []jobstore.Job
	if err := cur.All(fx.ctx, &jobs); err != nil {
		fx.t.Fatalf("decode jobs: %v", err)
	}
	out := map[string]int{}
	for _, j := range jobs {
		out[j.JobType]++
	}
	return out
}

func ptr(id primitive.ObjectID) *primitive.ObjectID { return &id }
