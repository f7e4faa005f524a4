package public

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/store/ratelimit"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/testutil"
	"go.uber.org/zap"
)

func setup(t *testing.T, guard Guard) http.Handler {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	engine := lifecycle.New(db, testutil.NewBlobStore(), lifecycle.Config{DefaultQuotaBytes: 1 << 20}, logger)
	return Routes(NewHandler(engine, guard, false, errorsfeature.NewErrorLogger(logger), logger))
}

func get(h http.Handler, path string) *testutil.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "198.51.100.7:5000"
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServe(t *testing.T) {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	blobs := testutil.NewBlobStore()
	engine := lifecycle.New(db, blobs, lifecycle.Config{DefaultQuotaBytes: 1 << 20}, logger)
	h := Routes(NewHandler(engine, nil, false, errorsfeature.NewErrorLogger(logger), logger))

	ctx, cancel := testutil.TestContext()
	defer cancel()
	owner := testutil.NewOwnerID()
	ref := blobstore.VersionKey(owner, "talk.pdf", time.Now())
	blobs.Put(ctx, ref, strings.NewReader("%PDF-slides"), nil)
	f, err := engine.CreateFile(ctx, lifecycle.CreateFileInput{
		OwnerID: owner, Name: "talk.pdf", MimeType: "application/pdf", StorageRef: ref, SizeBytes: 11,
	})
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	shared, err := engine.SetSharing(ctx, owner, f.ID, true)
	if err != nil {
		t.Fatalf("SetSharing() error = %v", err)
	}
	path := "/" + *shared.ShareToken

	for i := 0; i < 2; i++ {
		rec := get(h, path)
		rec.AssertStatus(t, http.StatusOK)
		if rec.Body.String() != "%PDF-slides" {
			t.Errorf("body = %q", rec.Body.String())
		}
	}

	got, _ := engine.GetFile(ctx, owner, f.ID)
	if got.PublicAccessCount != 2 {
		t.Errorf("PublicAccessCount = %d, want 2", got.PublicAccessCount)
	}

	engine.SetSharing(ctx, owner, f.ID, false)
	get(h, path).AssertStatus(t, http.StatusNotFound)
}

func TestServe_UnknownToken(t *testing.T) {
	h := setup(t, nil)
	get(h, "/nope").AssertStatus(t, http.StatusNotFound)
	get(h, "/"+strings.Repeat("A", 43)).AssertStatus(t, http.StatusNotFound)
}

func TestServe_LocksOutGuessing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	engine := lifecycle.New(db, testutil.NewBlobStore(), lifecycle.Config{}, logger)
	guard := ratelimit.New(db, 3, time.Minute, time.Hour)
	h := Routes(NewHandler(engine, guard, false, errorsfeature.NewErrorLogger(logger), logger))

	for i := 0; i < 3; i++ {
		get(h, "/"+strings.Repeat("B", 43)).AssertStatus(t, http.StatusNotFound)
	}
	rec := get(h, "/"+strings.Repeat("C", 43))
	rec.AssertStatus(t, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("lockout response should carry Retry-After")
	}
}

type countingGuard struct{ misses int }

func (g *countingGuard) Allowed(context.Context, string) (bool, *time.Time) { return true, nil }
func (g *countingGuard) RecordMiss(context.Context, string) (bool, *time.Time) {
	g.misses++
	return false, nil
}

func TestServe_OnlyUnknownTokensCountAsMisses(t *testing.T) {
	g := &countingGuard{}
	h := setup(t, g)

	get(h, "/"+strings.Repeat("D", 43)).AssertStatus(t, http.StatusNotFound)
	if g.misses != 1 {
		t.Errorf("misses = %d, want 1", g.misses)
	}
}
