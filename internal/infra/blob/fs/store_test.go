package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"isaac/internal/blob/blobtest"
	"isaac/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	blobtest.Run(t, newTempStore(t))
}

func TestPutLeavesOnlyFinalFiles(t *testing.T) {
	store := newTempStore(t)
	if _, err := store.Put(context.Background(), "changesets/1.ibdf", bytes.NewReader([]byte("abc")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "changesets"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "1.ibdf,1.ibdf.meta" {
		t.Fatalf("unexpected files %v", names)
	}
}

func TestReservedSuffixAndStrayFiles(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "x.meta", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected reserved suffix to be rejected, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "stray.ibdf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil || len(list) != 0 {
		t.Fatalf("files without a sidecar are not objects: %+v %v", list, err)
	}
	if _, _, err := store.Get(ctx, "stray.ibdf"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found for stray file, got %v", err)
	}
	url, err := store.PresignURL(ctx, "stray.ibdf", core.SignedURLOptions{})
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("unexpected url %q %v", url, err)
	}
}
