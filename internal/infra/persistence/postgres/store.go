// Package postgres persists the datastore snapshot to a Postgres table of
// JSONB buckets.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"isaac/pkg/domain"
)

var _ domain.StateStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/isaac?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store implements domain.StateStore.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore connects to dsn, or a local default, and ensures the state table.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Driver() domain.StorageDriver { return domain.StoragePostgres }

func (s *Store) Load(ctx context.Context) (domain.DatastoreState, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.DatastoreState{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	buckets := map[string][]byte{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.DatastoreState{}, false, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) > 0 {
			buckets[bucket] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DatastoreState{}, false, fmt.Errorf("iterate state: %w", err)
	}
	if len(buckets) == 0 {
		return domain.DatastoreState{}, false, nil
	}
	st, err := domain.StateFromBuckets(buckets)
	if err != nil {
		return domain.DatastoreState{}, false, err
	}
	return st, true, nil
}

// Save replaces every bucket in one transaction.
func (s *Store) Save(ctx context.Context, state domain.DatastoreState) error {
	buckets, err := state.Buckets()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, name := range domain.BucketNames() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
			name, buckets[name]); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the opener for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
