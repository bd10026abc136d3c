package changeset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"isaac/internal/binary"
	blobcore "isaac/internal/blob/core"
	"isaac/pkg/domain"
)

// Applier receives decoded records. Applying the same record twice must be
// harmless.
type Applier interface {
	ApplyChronology(ctx context.Context, item ChronologyItem) error
	ApplyStampAlias(ctx context.Context, item AliasItem) error
	ApplyCommitRecord(ctx context.Context, item CommitItem) error
}

// Summary counts the outcome of an import.
type Summary struct {
	FilesProcessed int      `json:"files_processed"`
	FilesSkipped   int      `json:"files_skipped"`
	RecordsLoaded  int      `json:"records_loaded"`
	RecordsFailed  int      `json:"records_failed"`
	Errors         []string `json:"errors,omitempty"`
}

// Add accumulates other into s.
func (s *Summary) Add(other Summary) {
	s.FilesProcessed += other.FilesProcessed
	s.FilesSkipped += other.FilesSkipped
	s.RecordsLoaded += other.RecordsLoaded
	s.RecordsFailed += other.RecordsFailed
	s.Errors = append(s.Errors, other.Errors...)
}

// Loader imports change-set files once each. Files are tracked by base
// name; a file that was fully read is skipped on later imports.
type Loader struct {
	applier Applier
	resolve binary.UUIDToNid
	logger  domain.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger for skipped records.
func WithLoaderLogger(logger domain.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader that applies records through applier.
func NewLoader(applier Applier, resolve binary.UUIDToNid, opts ...LoaderOption) *Loader {
	l := &Loader{
		applier:   applier,
		resolve:   resolve,
		logger:    domain.NoopLogger{},
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func fileKey(name string) string { return path.Base(strings.ReplaceAll(name, "\\", "/")) }

// MarkProcessed records names as already imported.
func (l *Loader) MarkProcessed(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range names {
		l.processed[fileKey(n)] = struct{}{}
	}
}

// IsProcessed reports whether name was imported before.
func (l *Loader) IsProcessed(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processed[fileKey(name)]
	return ok
}

// Processed returns the imported file names, sorted.
func (l *Loader) Processed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.processed))
	for n := range l.processed {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// LoadFile imports one file. Records that fail to decode or apply are
// logged, counted and skipped. An unreadable stream or unknown format
// version aborts the file, which then stays unprocessed.
func (l *Loader) LoadFile(ctx context.Context, name string, in io.Reader) (Summary, error) {
	var sum Summary
	if l.IsProcessed(name) {
		sum.FilesSkipped = 1
		return sum, nil
	}
	r := NewReader(in, l.resolve)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		item, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !IsRecordError(err) {
			return sum, fmt.Errorf("change set %s: %w", name, err)
		}
		if err == nil {
			err = l.apply(ctx, item)
		}
		if err != nil {
			sum.RecordsFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: record %d: %v", name, item.Index, err))
			l.logger.Warn("skipping change-set record", "file", name, "record", item.Index, "type", item.Type.String(), "error", err)
			continue
		}
		sum.RecordsLoaded++
	}
	sum.FilesProcessed = 1
	l.MarkProcessed(name)
	l.logger.Info("change set imported", "file", name, "loaded", sum.RecordsLoaded, "failed", sum.RecordsFailed)
	return sum, nil
}

func (l *Loader) apply(ctx context.Context, item Item) error {
	switch {
	case item.Chronology != nil:
		return l.applier.ApplyChronology(ctx, *item.Chronology)
	case item.Alias != nil:
		return l.applier.ApplyStampAlias(ctx, *item.Alias)
	case item.Commit != nil:
		return l.applier.ApplyCommitRecord(ctx, *item.Commit)
	}
	return fmt.Errorf("%w: empty record", domain.ErrCorruptState)
}

// LoadStore imports every change-set file under prefix in key order.
// Failures of whole files are recorded in the summary and the import moves
// on; the joined file errors are returned alongside.
func (l *Loader) LoadStore(ctx context.Context, store blobcore.Store, prefix string) (Summary, error) {
	var sum Summary
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return sum, fmt.Errorf("list change sets: %w", err)
	}
	slices.SortFunc(infos, func(a, b blobcore.Info) int { return strings.Compare(a.Key, b.Key) })
	var errs []error
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, Extension) {
			continue
		}
		if l.IsProcessed(info.Key) {
			sum.FilesSkipped++
			continue
		}
		fileSum, err := l.loadBlob(ctx, store, info.Key)
		sum.Add(fileSum)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Errors = append(sum.Errors, err.Error())
			errs = append(errs, err)
		}
	}
	return sum, errors.Join(errs...)
}

func (l *Loader) loadBlob(ctx context.Context, store blobcore.Store, key string) (Summary, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return Summary{}, fmt.Errorf("open change set %s: %w", key, err)
	}
	defer rc.Close()
	return l.LoadFile(ctx, key, rc)
}
