package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"isaac/internal/infra/persistence/statetest"
	"isaac/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "isaac.db")
	store, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	statetest.Run(t, store, func(old domain.StateStore) domain.StateStore {
		if err := old.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		reopened, err := NewStore(ctx, path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		return reopened
	})
}

func TestCorruptBucketIsReported(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "isaac.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, err := store.db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES('stamps', 'not json')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Load(ctx); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected corrupt state error, got %v", err)
	}
	if store.Driver() != domain.StorageSQLite || store.Path() == "" {
		t.Fatalf("unexpected driver or path")
	}
}
