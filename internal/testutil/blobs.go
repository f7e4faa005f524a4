package testutil

import (
	"context"
	"testing"

	"github.com/dalemusser/waffle/pantry/storage"
)

// NewBlobStore returns an empty in-memory blob store.
func NewBlobStore() *storage.Memory {
	return storage.NewMemory(storage.MemoryConfig{})
}

// BlobKeys returns the sorted keys stored under prefix ("" for all).
func BlobKeys(t *testing.T, s storage.Store, prefix string) []string {
	t.Helper()
	res, err := s.List(context.Background(), prefix, &storage.ListOptions{MaxKeys: 10000})
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	keys := make([]string, 0, len(res.Objects))
	for _, o := range res.Objects {
		keys = append(keys, o.Path)
	}
	return keys
}

// BlobExists reports whether key is stored.
func BlobExists(t *testing.T, s storage.Store, key string) bool {
	t.Helper()
	ok, err := s.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("blob exists %s: %v", key, err)
	}
	return ok
}
