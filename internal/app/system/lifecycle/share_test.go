package lifecycle

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/dalemusser/stratadrive/internal/app/system/sharetoken"
)

func TestSetSharing_Lifecycle(t *testing.T) {
	fx := newFixture(t)
	folder := fx.createFolder("alice", nil, "Shared")
	f := fx.createFile("alice", nil, "talk.pdf", "application/pdf", 40)

	shared, err := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true)
	if err != nil {
		t.Fatalf("SetSharing(true) error = %v", err)
	}
	if !shared.IsPublic || shared.ShareToken == nil || !sharetoken.Valid(*shared.ShareToken) {
		t.Fatalf("shared file = public %v token %v, want a valid token", shared.IsPublic, shared.ShareToken)
	}
	token := *shared.ShareToken

	// Enabling again keeps the token.
	again, _ := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true)
	if again.ShareToken == nil || *again.ShareToken != token {
		t.Error("re-enabling an active share must keep its token")
	}

	for i := 0; i < 2; i++ {
		if _, err := fx.engine.RecordPublicAccess(fx.ctx, token); err != nil {
			t.Fatalf("RecordPublicAccess() error = %v", err)
		}
	}

	// The link follows the file through a move.
	if _, err := fx.engine.MoveFile(fx.ctx, "alice", f.ID, &folder.ID); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}
	got, err := fx.engine.RecordPublicAccess(fx.ctx, token)
	if err != nil {
		t.Fatalf("RecordPublicAccess() after move error = %v", err)
	}
	if got.PublicAccessCount != 3 {
		t.Errorf("PublicAccessCount = %d, want 3", got.PublicAccessCount)
	}

	// Trash revokes the link.
	fx.engine.TrashFile(fx.ctx, "alice", f.ID)
	if _, err := fx.engine.RecordPublicAccess(fx.ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordPublicAccess() after trash error = %v, want ErrNotFound", err)
	}
	if _, err := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true); !errors.Is(err, ErrTrashed) {
		t.Errorf("SetSharing() on trashed error = %v, want ErrTrashed", err)
	}

	// After restore, sharing again issues a fresh token with a fresh count.
	if err := fx.engine.RestoreFile(fx.ctx, "alice", f.ID); err != nil {
		t.Fatalf("RestoreFile() error = %v", err)
	}
	reshared, err := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true)
	if err != nil {
		t.Fatalf("SetSharing() after restore error = %v", err)
	}
	if reshared.ShareToken == nil || *reshared.ShareToken == token {
		t.Error("re-sharing must issue a new token")
	}
	if reshared.PublicAccessCount != 0 {
		t.Errorf("PublicAccessCount = %d, want 0", reshared.PublicAccessCount)
	}
	if _, err := fx.engine.RecordPublicAccess(fx.ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("old token error = %v, want ErrNotFound", err)
	}
}

func TestSetSharing_Disable(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "a.txt", "text/plain", 1)

	shared, _ := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true)
	token := *shared.ShareToken

	off, err := fx.engine.SetSharing(fx.ctx, "alice", f.ID, false)
	if err != nil {
		t.Fatalf("SetSharing(false) error = %v", err)
	}
	if off.IsPublic || off.ShareToken != nil {
		t.Error("disabled share must have no token")
	}
	if _, err := fx.engine.RecordPublicAccess(fx.ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordPublicAccess() after disable error = %v, want ErrNotFound", err)
	}

	if _, err := fx.engine.SetSharing(fx.ctx, "bob", f.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSharing() by other owner error = %v, want ErrNotFound", err)
	}
}

func TestSetSharing_TokenCollisionRetries(t *testing.T) {
	fx := newFixture(t)
	a := fx.createFile("alice", nil, "a.txt", "text/plain", 1)
	b := fx.createFile("alice", nil, "b.txt", "text/plain", 1)

	// The first two tokens are identical; later ones are random.
	fx.engine.tokens = &sharetoken.Generator{
		Source: io.MultiReader(bytes.NewReader(bytes.Repeat([]byte{7}, 2*sharetoken.Size)), rand.Reader),
	}

	sa, err := fx.engine.SetSharing(fx.ctx, "alice", a.ID, true)
	if err != nil {
		t.Fatalf("SetSharing(a) error = %v", err)
	}
	sb, err := fx.engine.SetSharing(fx.ctx, "alice", b.ID, true)
	if err != nil {
		t.Fatalf("SetSharing(b) error = %v, want retry past the collision", err)
	}
	if *sa.ShareToken == *sb.ShareToken {
		t.Error("colliding token must not be stored twice")
	}
}

func TestSetSharing_RetriesExhausted(t *testing.T) {
	fx := newFixture(t)
	a := fx.createFile("alice", nil, "a.txt", "text/plain", 1)
	b := fx.createFile("alice", nil, "b.txt", "text/plain", 1)

	fx.engine.tokens = &sharetoken.Generator{Source: constReader(9)}
	if _, err := fx.engine.SetSharing(fx.ctx, "alice", a.ID, true); err != nil {
		t.Fatalf("SetSharing(a) error = %v", err)
	}
	if _, err := fx.engine.SetSharing(fx.ctx, "alice", b.ID, true); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("SetSharing(b) error = %v, want ErrAlreadyExists", err)
	}
}

type constReader byte

func (c constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(c)
	}
	return len(p), nil
}

func TestOpenPublic(t *testing.T) {
	fx := newFixture(t)
	f := fx.createFile("alice", nil, "hello.txt", "text/plain", 5)
	shared, _ := fx.engine.SetSharing(fx.ctx, "alice", f.ID, true)
	token := *shared.ShareToken

	got, rc, err := fx.engine.OpenPublic(fx.ctx, token)
	if err != nil {
		t.Fatalf("OpenPublic() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "xxxxx" {
		t.Errorf("body = %q, want xxxxx", body)
	}
	if got.PublicAccessCount != 1 {
		t.Errorf("PublicAccessCount = %d, want 1", got.PublicAccessCount)
	}

	// A missing blob is not counted.
	fx.blobs.Delete(fx.ctx, f.StoragePath)
	if _, _, err := fx.engine.OpenPublic(fx.ctx, token); err == nil {
		t.Error("OpenPublic() with missing blob should fail")
	}
	after, _ := fx.engine.GetFile(fx.ctx, "alice", f.ID)
	if after.PublicAccessCount != 1 {
		t.Errorf("PublicAccessCount after failed read = %d, want 1", after.PublicAccessCount)
	}

	for _, bad := range []string{"", "short", token + "x"} {
		if _, _, err := fx.engine.OpenPublic(fx.ctx, bad); !errors.Is(err, ErrNotFound) {
			t.Errorf("OpenPublic(%q) error = %v, want ErrNotFound", bad, err)
		}
	}
}
