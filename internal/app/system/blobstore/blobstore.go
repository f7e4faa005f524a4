// Package blobstore names and addresses the binary objects behind files.
//
// Every version gets a fresh key (copy-on-write), and derived artifacts get
// keys computed from the source content's key, so regenerating an artifact
// for the same content always overwrites the same object.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/google/uuid"
)

// Store is the subset of blob storage the lifecycle and workers use.
// waffle's local and S3 stores satisfy it.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, opts *storage.PutOptions) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// VersionKey returns a new, never reused key for uploaded content.
func VersionKey(ownerID, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("files/%s/%04d/%02d/%s%s",
		safeSegment(ownerID), now.Year(), int(now.Month()), uuid.New().String(), ext)
}

// ThumbnailKey returns the deterministic thumbnail key for one file content.
func ThumbnailKey(fileID, storagePath string) string {
	return fmt.Sprintf("thumbnails/%s/%s.jpg", fileID, contentTag(storagePath))
}

// TranscodeKey returns the deterministic transcode key for one file content.
func TranscodeKey(fileID, storagePath string) string {
	return fmt.Sprintf("transcodes/%s/%s.mp4", fileID, contentTag(storagePath))
}

func contentTag(storagePath string) string {
	sum := sha256.Sum256([]byte(storagePath))
	return hex.EncodeToString(sum[:8])
}

func safeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// CountingReader counts the bytes read through it.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}
