package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"isaac/internal/blob/blobtest"
	"isaac/internal/blob/core"
)

func TestStoreContract(t *testing.T) {
	blobtest.Run(t, New())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestPutReadErrorAndClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(WithClock(func() time.Time { return fixed }))
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad.ibdf", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	info, err := store.Put(context.Background(), "a.ibdf", bytes.NewReader([]byte("x")), core.PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.LastModified.Equal(fixed) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	info.Metadata["k"] = "changed"
	head, _ := store.Head(context.Background(), "a.ibdf")
	if head.Metadata["k"] != "v" {
		t.Fatalf("metadata must be copied on the way out")
	}
}
