// Package blobtest holds the behaviour every core.Store backend must share.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"isaac/internal/blob/core"
	"isaac/pkg/domain"
)

// Run exercises store against the core.Store contract. The store must be
// empty.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()
	payload := []byte("change set payload")

	info, err := store.Put(ctx, "changesets/0002.ibdf", bytes.NewReader(payload), core.PutOptions{
		ContentType: core.ChangeSetContentType,
		Metadata:    map[string]string{"commit": "2"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "changesets/0002.ibdf" || info.Size != int64(len(payload)) {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := store.Put(ctx, "changesets/0001.ibdf", bytes.NewReader([]byte("first")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := store.Put(ctx, "other/readme.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put third: %v", err)
	}
	if _, err := store.Put(ctx, "changesets/0002.ibdf", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "changesets/0002.ibdf")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ContentType != core.ChangeSetContentType || head.Size != int64(len(payload)) {
		t.Fatalf("unexpected head %+v", head)
	}
	got, rc, err := store.Get(ctx, "changesets/0002.ibdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || !bytes.Equal(body, payload) {
		t.Fatalf("get body %q, %v", body, err)
	}
	if got.Key != head.Key {
		t.Fatalf("get key %q != head key %q", got.Key, head.Key)
	}

	list, err := store.List(ctx, "changesets/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "changesets/0001.ibdf" || list[1].Key != "changesets/0002.ibdf" {
		t.Fatalf("list not sorted or not filtered: %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %d %v", len(all), err)
	}

	if _, err := store.Head(ctx, "changesets/missing.ibdf"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "changesets/missing.ibdf"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "changesets/0002.ibdf", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected PUT presign to be unsupported, got %v", err)
	}

	ok, err := store.Delete(ctx, "changesets/0002.ibdf")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "changesets/0002.ibdf")
	if err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, err := store.Put(ctx, "../escape.ibdf", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
