package files

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/dalemusser/stratadrive/internal/testutil"
	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/blake2b"
	"go.uber.org/zap"
)

type testEnv struct {
	t      *testing.T
	engine *lifecycle.Engine
	blobs  *storage.Memory
	router chi.Router
	owner  string
}

func newTestEnv(t *testing.T, quota, maxUpload int64) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	blobs := testutil.NewBlobStore()
	logger := zap.NewNop()

	engine := lifecycle.New(db, blobs, lifecycle.Config{DefaultQuotaBytes: quota}, logger)
	h := NewHandler(engine, blobs, maxUpload, errorsfeature.NewErrorLogger(logger), logger)
	return &testEnv{t: t, engine: engine, blobs: blobs, router: Routes(h), owner: testutil.NewOwnerID()}
}

func (env *testEnv) do(req *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) upload(name string, content []byte, fields map[string]string) *models.File {
	env.t.Helper()
	rec := env.do(testutil.NewUploadRequest(env.t, "/", env.owner, name, "", content, fields))
	rec.AssertStatus(env.t, http.StatusCreated)
	var f models.File
	rec.DecodeJSON(env.t, &f)
	return &f
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	content := []byte("%PDF-1.7 quarterly numbers")

	f := env.upload("report.pdf", content, nil)

	if f.Name != "report.pdf" || f.MimeType != "application/pdf" {
		t.Errorf("file = %q (%s), want report.pdf (application/pdf)", f.Name, f.MimeType)
	}
	if f.SizeBytes != int64(len(content)) || f.CurrentVersion != 1 {
		t.Errorf("size=%d version=%d, want %d and 1", f.SizeBytes, f.CurrentVersion, len(content))
	}

	ctx, cancel := testutil.TestContext()
	defer cancel()
	versions, _ := env.engine.ListVersions(ctx, env.owner, f.ID)
	sum := blake2b.Sum256(content)
	if len(versions) != 1 || versions[0].ContentHash != hex.EncodeToString(sum[:]) {
		t.Errorf("versions = %+v, want one with the blake2b hash", versions)
	}
	usage, _ := env.engine.Usage(ctx, env.owner)
	if usage.UsedBytes != int64(len(content)) {
		t.Errorf("used = %d, want %d", usage.UsedBytes, len(content))
	}
}

func TestUpload_NameOverrideAndFolder(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	folder, err := env.engine.CreateFolder(ctx, env.owner, nil, "Docs")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	f := env.upload("IMG_0001.png", []byte("png"), map[string]string{
		"name":      "holiday.png",
		"folder_id": folder.ID.Hex(),
	})
	if f.Name != "holiday.png" {
		t.Errorf("Name = %q, want holiday.png", f.Name)
	}
	if f.FolderID == nil || *f.FolderID != folder.ID {
		t.Error("file should be inside Docs")
	}
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, 100, 64)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{
			name:   "over upload limit",
			req:    testutil.NewUploadRequest(t, "/", env.owner, "big.bin", "", bytes.Repeat([]byte("a"), 65), nil),
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "over quota",
			req:    testutil.NewUploadRequest(t, "/", env.owner, "a.bin", "", bytes.Repeat([]byte("a"), 60), nil),
			status: http.StatusCreated,
		},
		{
			name:   "second upload over quota",
			req:    testutil.NewUploadRequest(t, "/", env.owner, "b.bin", "", bytes.Repeat([]byte("b"), 60), nil),
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "unknown folder",
			req:    testutil.NewUploadRequest(t, "/", env.owner, "c.bin", "", []byte("c"), map[string]string{"folder_id": "65a000000000000000000000"}),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "malformed folder",
			req:    testutil.NewUploadRequest(t, "/", env.owner, "d.bin", "", []byte("d"), map[string]string{"folder_id": "nope"}),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "not multipart",
			req:    testutil.NewOwnerRequest(t, http.MethodPost, "/", env.owner, map[string]string{"name": "x"}),
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.do(tt.req).AssertStatus(t, tt.status)
		})
	}

	// Only the accepted upload keeps a blob.
	if keys := testutil.BlobKeys(t, env.blobs, ""); len(keys) != 1 {
		t.Errorf("blobs = %v, want exactly one", keys)
	}
}

func TestAddVersionAndList(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	f := env.upload("notes.txt", []byte("v1"), nil)

	rec := env.do(testutil.NewUploadRequest(t, "/"+f.ID.Hex()+"/versions", env.owner, "notes.txt", "", []byte("version two"), nil))
	rec.AssertStatus(t, http.StatusCreated)
	var v models.Version
	rec.DecodeJSON(t, &v)
	if v.VersionNumber != 2 || v.SizeBytes != int64(len("version two")) {
		t.Errorf("version = %d (%d bytes), want 2 (%d bytes)", v.VersionNumber, v.SizeBytes, len("version two"))
	}

	rec = env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+f.ID.Hex()+"/versions", env.owner, nil))
	rec.AssertStatus(t, http.StatusOK)
	var body struct {
		Versions []models.Version `json:"versions"`
	}
	rec.DecodeJSON(t, &body)
	if len(body.Versions) != 2 || body.Versions[0].VersionNumber != 1 {
		t.Errorf("versions = %+v, want [1 2]", body.Versions)
	}

	rec = env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+f.ID.Hex()+"/download", env.owner, nil))
	rec.AssertStatus(t, http.StatusOK)
	if rec.Body.String() != "version two" {
		t.Errorf("download = %q, want the current version", rec.Body.String())
	}
}

func TestGet_OtherOwnerIsNotFound(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	f := env.upload("private.txt", []byte("secret"), nil)

	env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+f.ID.Hex(), env.owner, nil)).AssertStatus(t, http.StatusOK)
	env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+f.ID.Hex(), "someone-else", nil)).AssertStatus(t, http.StatusNotFound)
	env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/not-an-id", env.owner, nil)).AssertStatus(t, http.StatusNotFound)
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	folder, _ := env.engine.CreateFolder(ctx, env.owner, nil, "Archive")
	f := env.upload("draft.txt", []byte("x"), nil)
	path := "/" + f.ID.Hex()

	rec := env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]string{
		"name":      "final.txt",
		"folder_id": folder.ID.Hex(),
	}))
	rec.AssertStatus(t, http.StatusOK)
	var got models.File
	rec.DecodeJSON(t, &got)
	if got.Name != "final.txt" || got.FolderID == nil || *got.FolderID != folder.ID {
		t.Errorf("file = %q in %v, want final.txt in Archive", got.Name, got.FolderID)
	}

	rec = env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]string{"folder_id": ""}))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &got)
	if got.FolderID != nil {
		t.Error("folder_id \"\" should move the file to the root")
	}

	env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]string{})).AssertStatus(t, http.StatusBadRequest)
	env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]string{"name": "   "})).AssertStatus(t, http.StatusBadRequest)
	env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]any{"size_bytes": 1})).AssertStatus(t, http.StatusBadRequest)
}

func TestTrashRestorePurge(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	f := env.upload("old.txt", []byte("bye"), nil)
	path := "/" + f.ID.Hex()

	env.do(testutil.NewOwnerRequest(t, http.MethodDelete, path, env.owner, nil)).AssertStatus(t, http.StatusConflict)
	env.do(testutil.NewOwnerRequest(t, http.MethodPost, path+"/trash", env.owner, nil)).AssertStatus(t, http.StatusNoContent)
	env.do(testutil.NewOwnerRequest(t, http.MethodGet, path+"/download", env.owner, nil)).AssertStatus(t, http.StatusConflict)
	env.do(testutil.NewOwnerRequest(t, http.MethodPatch, path, env.owner, map[string]string{"name": "x"})).AssertStatus(t, http.StatusConflict)
	env.do(testutil.NewOwnerRequest(t, http.MethodPost, path+"/restore", env.owner, nil)).AssertStatus(t, http.StatusNoContent)
	// Restoring an active file is a no-op success.
	env.do(testutil.NewOwnerRequest(t, http.MethodPost, path+"/restore", env.owner, nil)).AssertStatus(t, http.StatusNoContent)
	env.do(testutil.NewOwnerRequest(t, http.MethodPost, path+"/trash", env.owner, nil)).AssertStatus(t, http.StatusNoContent)
	env.do(testutil.NewOwnerRequest(t, http.MethodDelete, path, env.owner, nil)).AssertStatus(t, http.StatusNoContent)
	env.do(testutil.NewOwnerRequest(t, http.MethodGet, path, env.owner, nil)).AssertStatus(t, http.StatusNotFound)

	if keys := testutil.BlobKeys(t, env.blobs, ""); len(keys) != 0 {
		t.Errorf("blobs after purge = %v, want none", keys)
	}
}

func TestShare(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	f := env.upload("slides.pdf", []byte("%PDF"), nil)
	path := "/" + f.ID.Hex() + "/share"

	rec := env.do(testutil.NewOwnerRequest(t, http.MethodPost, path, env.owner, map[string]bool{"enabled": true}))
	rec.AssertStatus(t, http.StatusOK)
	var got models.File
	rec.DecodeJSON(t, &got)
	if !got.IsPublic || got.ShareToken == nil {
		t.Fatalf("file = %+v, want public with a token", got)
	}

	rec = env.do(testutil.NewOwnerRequest(t, http.MethodPost, path, env.owner, map[string]bool{"enabled": false}))
	rec.AssertStatus(t, http.StatusOK)
	got = models.File{}
	rec.DecodeJSON(t, &got)
	if got.IsPublic || got.ShareToken != nil {
		t.Errorf("file = %+v, want private without a token", got)
	}

	env.do(testutil.NewOwnerRequest(t, http.MethodPost, path, env.owner, map[string]string{})).AssertStatus(t, http.StatusBadRequest)
}

func TestDownload_Headers(t *testing.T) {
	env := newTestEnv(t, 1<<20, 0)
	page := env.upload("page.html", []byte("<script>alert(1)</script>"), nil)
	photo := env.upload("photo.png", []byte("\x89PNG"), nil)

	rec := env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+page.ID.Hex()+"/download?inline=1", env.owner, nil))
	rec.AssertStatus(t, http.StatusOK)
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("html Content-Disposition = %q, want attachment", cd)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("download should disable content sniffing")
	}

	rec = env.do(testutil.NewOwnerRequest(t, http.MethodGet, "/"+photo.ID.Hex()+"/download?inline=1", env.owner, nil))
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Errorf("png Content-Disposition = %q, want inline", cd)
	}
	if rec.Header().Get("Content-Length") != "4" {
		t.Errorf("Content-Length = %q, want 4", rec.Header().Get("Content-Length"))
	}
}

func TestParseFolderRef(t *testing.T) {
	for _, s := range []string{"", "root"} {
		if id, err := ParseFolderRef(s); id != nil || err != nil {
			t.Errorf("ParseFolderRef(%q) = %v, %v; want root", s, id, err)
		}
	}
	if _, err := ParseFolderRef("zzz"); err == nil {
		t.Error("ParseFolderRef(zzz) should fail")
	}
	if id, err := ParseFolderRef("65a000000000000000000000"); err != nil || id == nil {
		t.Errorf("ParseFolderRef(hex) = %v, %v", id, err)
	}
}
