package changeset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"isaac/pkg/domain"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher imports change-set files as they appear in a directory.
type Watcher struct {
	dir      string
	loader   *Loader
	logger   domain.Logger
	debounce time.Duration
	onLoad   func(name string, sum Summary, err error)

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	loads   sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger domain.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets how long a file must stay quiet before it is imported.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLoadCallback is called after every import attempt.
func WithLoadCallback(fn func(name string, sum Summary, err error)) WatcherOption {
	return func(w *Watcher) { w.onLoad = fn }
}

// NewWatcher watches dir and imports through loader.
func NewWatcher(dir string, loader *Loader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		loader:   loader,
		logger:   domain.NoopLogger{},
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run imports existing files, then every new or rewritten file, until ctx
// is done. It returns only after imports already under way have finished.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer w.stopTimers()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	var existing []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			existing = append(existing, filepath.Join(w.dir, e.Name()))
		}
	}
	slices.Sort(existing)
	for _, p := range existing {
		w.load(ctx, p)
	}
	w.logger.Info("change-set watcher started", "dir", w.dir, "existing", len(existing))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, Extension) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("change-set watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[name]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.pending, name)
		w.loads.Add(1)
		w.mu.Unlock()
		defer w.loads.Done()
		w.load(ctx, name)
	})
}

// stopTimers cancels debounced imports and waits for running ones.
func (w *Watcher) stopTimers() {
	w.mu.Lock()
	w.stopped = true
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()
	w.loads.Wait()
}

func (w *Watcher) load(ctx context.Context, name string) {
	if ctx.Err() != nil || w.loader.IsProcessed(name) {
		return
	}
	f, err := os.Open(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("open change set", "file", name, "error", err)
		}
		return
	}
	defer f.Close()
	sum, err := w.loader.LoadFile(ctx, name, f)
	if err != nil {
		w.logger.Warn("change set not imported", "file", name, "error", err)
	}
	if w.onLoad != nil {
		w.onLoad(name, sum, err)
	}
}
