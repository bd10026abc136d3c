package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"isaac/internal/infra/persistence/statetest"
	"isaac/pkg/domain"
)

// stateTable fakes the single table the store uses, through database/sql.
type stateTable struct {
	mu         sync.Mutex
	rows       map[string][]byte
	execs      []string
	failPing   bool
	failUpsert string
	committed  int
	rolledBack int
}

func (s *stateTable) Connect(context.Context) (driver.Conn, error) { return &stubConn{table: s}, nil }
func (s *stateTable) Driver() driver.Driver                         { return nil }

type stubConn struct {
	table   *stateTable
	pending map[string][]byte
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.pending = map[string][]byte{}
	return c, nil
}

func (c *stubConn) Commit() error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	for k, v := range c.pending {
		c.table.rows[k] = v
	}
	c.pending = nil
	c.table.committed++
	return nil
}

func (c *stubConn) Rollback() error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	c.pending = nil
	c.table.rolledBack++
	return nil
}

func (c *stubConn) Ping(context.Context) error {
	if c.table.failPing {
		return errors.New("connection refused")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	c.table.execs = append(c.table.execs, strings.Fields(query)[0])
	if !strings.HasPrefix(query, "INSERT INTO state") {
		return driver.RowsAffected(0), nil
	}
	bucket, _ := args[0].Value.(string)
	if bucket == c.table.failUpsert {
		return nil, errors.New("disk full")
	}
	payload, _ := args[1].Value.([]byte)
	if c.pending == nil {
		c.table.rows[bucket] = bytes.Clone(payload)
	} else {
		c.pending[bucket] = bytes.Clone(payload)
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	var names []string
	for name := range c.table.rows {
		names = append(names, name)
	}
	slices.Sort(names)
	rows := &stubRows{}
	for _, name := range names {
		rows.values = append(rows.values, []driver.Value{name, bytes.Clone(c.table.rows[name])})
	}
	return rows, nil
}

type stubRows struct {
	values [][]driver.Value
	next   int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

func openStub(t *testing.T, table *stateTable) (*Store, error) {
	t.Helper()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver || dsn != defaultDSN {
			t.Fatalf("unexpected open %s %s", driverName, dsn)
		}
		return sql.OpenDB(table), nil
	})
	defer restore()
	return NewStore(context.Background(), "")
}

func TestStoreContract(t *testing.T) {
	table := &stateTable{rows: map[string][]byte{}}
	store, err := openStub(t, table)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if table.execs[0] != "CREATE" {
		t.Fatalf("expected table creation first, got %v", table.execs)
	}
	statetest.Run(t, store, func(old domain.StateStore) domain.StateStore {
		_ = old.Close()
		reopened, err := openStub(t, table)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		return reopened
	})
	if table.committed != 2 {
		t.Fatalf("expected two committed saves, got %d", table.committed)
	}
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	table := &stateTable{rows: map[string][]byte{}, failUpsert: domain.BucketChronologies}
	store, err := openStub(t, table)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(context.Background(), statetest.SampleState()); err == nil {
		t.Fatalf("expected save failure")
	}
	if table.rolledBack != 1 || len(table.rows) != 0 {
		t.Fatalf("failed save must not leave partial buckets: %d rows", len(table.rows))
	}
	if _, found, err := store.Load(context.Background()); err != nil || found {
		t.Fatalf("expected nothing saved, got %v %v", found, err)
	}
}

func TestNewStoreFailsWhenPingFails(t *testing.T) {
	table := &stateTable{rows: map[string][]byte{}, failPing: true}
	if _, err := openStub(t, table); err == nil {
		t.Fatalf("expected ping failure")
	}
}
