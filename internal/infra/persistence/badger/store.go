// Package badger persists the datastore snapshot as one key per bucket in an
// embedded BadgerDB.
package badger

import (
	"context"
	"fmt"
	"os"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"isaac/pkg/domain"
)

var _ domain.StateStore = (*Store)(nil)

const keyPrefix = "isaac/state/"

// Store implements domain.StateStore.
type Store struct {
	db   *badgerdb.DB
	path string
}

// badgerLogger adapts domain.Logger to badger's printf-style logger.
type badgerLogger struct {
	logger domain.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("badger", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// NewStore opens the database directory at path. An empty path keeps
// everything in memory. A nil logger silences badger.
func NewStore(path string, logger domain.Logger) (*Store, error) {
	var opts badgerdb.Options
	if path == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badgerdb.DefaultOptions(path)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Driver() domain.StorageDriver { return domain.StorageBadger }

func (s *Store) Load(ctx context.Context) (domain.DatastoreState, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.DatastoreState{}, false, err
	}
	buckets := map[string][]byte{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: []byte(keyPrefix), PrefetchValues: true, PrefetchSize: 8})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			buckets[strings.TrimPrefix(string(item.Key()), keyPrefix)] = payload
		}
		return nil
	})
	if err != nil {
		return domain.DatastoreState{}, false, fmt.Errorf("read state: %w", err)
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

// Save writes every bucket in a single transaction.
func (s *Store) Save(ctx context.Context, state domain.DatastoreState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buckets, err := state.Buckets()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, name := range domain.BucketNames() {
			if err := txn.Set([]byte(keyPrefix+name), buckets[name]); err != nil {
				return fmt.Errorf("set %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database directory, empty when in memory.
func (s *Store) Path() string { return s.path }
