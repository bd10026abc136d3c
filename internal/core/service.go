// Package core assembles the identifier space, stamp store, version chains,
// taxonomy and commit layer into one datastore service.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"isaac/internal/blob"
	"isaac/internal/changeset"
	"isaac/internal/chronology"
	"isaac/internal/commit"
	"isaac/internal/coordinate"
	"isaac/internal/identifier"
	"isaac/internal/infra/persistence/memory"
	"isaac/internal/stamp"
	"isaac/internal/task"
	"isaac/internal/taxonomy"
	"isaac/pkg/domain"
)

// DefaultChangeSetPrefix is the blob key prefix of change-set files.
const DefaultChangeSetPrefix = "changesets"

// ErrClosed is returned by operations on a closed service.
var ErrClosed = errors.New("datastore closed")

// Service is the datastore. It is safe for concurrent use; writes are
// serialized, reads go straight to the underlying stores.
type Service struct {
	ids      *identifier.Service
	stamps   *stamp.Store
	paths    *coordinate.PathRegistry
	calc     *coordinate.Calculator
	chronos  *chronology.Store
	taxonomy *taxonomy.Store
	commits  *commit.Manager
	loader   *changeset.Loader
	tasks    *task.Executor
	meta     domain.MetadataNids

	state     domain.StateStore
	blobs     blob.Store
	prefix    string
	listeners []domain.CommitListener

	logger  domain.Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	rules      *domain.RulesEngine
	workers    int
	registerer prometheus.Registerer

	mu     sync.RWMutex
	closed bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every component.
func WithLogger(logger domain.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for commit times, bootstrap stamps and
// audit timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder reports operation outcomes to rec. Given more than
// once, every recorder sees every operation.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec == nil {
			return
		}
		switch cur := s.metrics.(type) {
		case noopMetrics:
			s.metrics = rec
		case metricsFanout:
			s.metrics = append(cur, rec)
		default:
			s.metrics = metricsFanout{cur, rec}
		}
	}
}

// WithTracer wraps operations in spans from tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder records every mutating operation.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithStateStore persists the datastore in store. The default keeps state
// in memory.
func WithStateStore(store domain.StateStore) Option {
	return func(s *Service) {
		if store != nil {
			s.state = store
		}
	}
}

// WithBlobStore writes and reads change-set files under prefix in store.
func WithBlobStore(store blob.Store, prefix string) Option {
	return func(s *Service) {
		if store != nil {
			s.blobs = store
		}
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithCommitListener notifies l after each commit is persisted.
func WithCommitListener(l domain.CommitListener) Option {
	return func(s *Service) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// WithRulesEngine replaces the default commit-time change checkers.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.rules = engine }
}

// WithWorkers bounds concurrent background tasks and snapshot builders.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRegisterer exports task metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = reg }
}

// Open loads the datastore from its state store, or bootstraps the
// well-known metadata when the store is empty.
func Open(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{
		prefix:  DefaultChangeSetPrefix,
		logger:  domain.NoopLogger{},
		clock:   ClockFunc(time.Now),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		workers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.state == nil {
		s.state = memory.NewStore()
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}

	s.ids = identifier.New(identifier.WithLogger(s.logger))
	s.stamps = stamp.New(stamp.WithLogger(s.logger), stamp.WithNidDescriber(s.describeNid))
	s.paths = coordinate.NewPathRegistry()
	s.calc = coordinate.NewCalculator(s.stamps, s.paths)
	s.chronos = chronology.NewStore()

	executor, err := task.NewExecutor(
		task.WithLogger(s.logger),
		task.WithClock(s.clock.Now),
		task.WithConcurrency(s.workers),
		task.WithRegisterer(s.registerer),
	)
	if err != nil {
		return nil, err
	}
	s.tasks = executor

	st, found, err := s.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load datastore: %w", err)
	}
	if found {
		err = s.restore(st)
	} else {
		err = s.bootstrap()
	}
	if err != nil {
		return nil, err
	}
	if !found {
		if err := s.save(ctx); err != nil {
			return nil, err
		}
	}
	s.logger.Info("datastore open",
		"driver", string(s.state.Driver()),
		"restored", found,
		"nids", s.ids.Count(),
		"stamps", s.stamps.Count(),
		"chronologies", s.chronos.Count())
	return s, nil
}

// wire builds the components that depend on the metadata nids.
func (s *Service) wire() {
	s.taxonomy = taxonomy.NewStore(s.meta, taxonomy.WithLogger(s.logger), taxonomy.WithWorkers(s.workers))
	s.commits = commit.New(s.stamps, s.chronos,
		commit.WithLogger(s.logger),
		commit.WithClock(s.clock.Now),
		commit.WithNidChecker(s.hasComponent),
		commit.WithRulesEngine(s.rules),
	)
	s.commits.AddListener(persistListener{s: s})
	for _, l := range s.listeners {
		s.commits.AddListener(l)
	}
	resolve := func(u uuid.UUID) (int32, error) { return s.ids.AssignNid(u) }
	s.loader = changeset.NewLoader(importer{s: s}, resolve, changeset.WithLoaderLogger(s.logger))
}

func (s *Service) lookupMetadata() (domain.MetadataNids, error) {
	var missing []string
	meta := domain.MetadataNidsFrom(func(name string) int32 {
		nid, err := s.ids.GetNidForUuids(domain.MetadataUUID(name))
		if err != nil {
			missing = append(missing, name)
		}
		return nid
	})
	if len(missing) > 0 {
		return meta, fmt.Errorf("%w: metadata concepts missing: %v", domain.ErrCorruptState, missing)
	}
	return meta, nil
}

func (s *Service) restore(st domain.DatastoreState) error {
	if err := s.ids.Import(st.Identifiers); err != nil {
		return fmt.Errorf("restore identifiers: %w", err)
	}
	if err := s.stamps.Import(st.Stamps); err != nil {
		return fmt.Errorf("restore stamps: %w", err)
	}
	if err := s.paths.Import(st.Paths); err != nil {
		return fmt.Errorf("restore paths: %w", err)
	}
	meta, err := s.lookupMetadata()
	if err != nil {
		return err
	}
	s.meta = meta
	s.wire()
	if err := s.chronos.Import(st.Chronologies, s.stamps); err != nil {
		return fmt.Errorf("restore chronologies: %w", err)
	}
	s.commits.Restore(st.Commits)
	s.loader.MarkProcessed(st.ProcessedChangeSets...)

	var failed error
	s.chronos.ForEach(func(c *domain.Chronology) bool {
		if err := s.taxonomy.Update(c); err != nil {
			s.logger.Warn("taxonomy skipped chronology", "nid", c.Nid(), "error", err)
		}
		for _, seq := range c.StampSequences() {
			if s.stamps.IsUncommitted(seq) {
				if err := s.commits.AddUncommitted(c); err != nil {
					failed = err
					return false
				}
				break
			}
		}
		return true
	})
	return failed
}

// save writes the whole datastore to the state store.
func (s *Service) save(ctx context.Context) error {
	chronologies, err := s.chronos.Export()
	if err != nil {
		return fmt.Errorf("export chronologies: %w", err)
	}
	st := domain.DatastoreState{
		Identifiers:         s.ids.Export(),
		Stamps:              s.stamps.Export(),
		Paths:               s.paths.Export(),
		Chronologies:        chronologies,
		Commits:             s.commits.Records(),
		ProcessedChangeSets: s.loader.Processed(),
	}
	if err := s.state.Save(ctx, st); err != nil {
		return fmt.Errorf("save datastore: %w", err)
	}
	return nil
}

// Close waits for background tasks, saves and closes the state store.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	// Tasks take the write lock per record, so wait before holding it.
	s.tasks.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.save(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.state.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	s.logger.Info("datastore closed")
	return errors.Join(errs...)
}

// lock serializes writers and rejects calls after Close.
func (s *Service) lock() (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return s.mu.Unlock, nil
}

// rlock admits concurrent readers while no writer holds the lock.
func (s *Service) rlock() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Metadata returns the nids of the well-known concepts.
func (s *Service) Metadata() domain.MetadataNids { return s.meta }

// DefaultEdit is the edit coordinate used when callers pass a zero one.
func (s *Service) DefaultEdit() domain.EditCoordinate { return s.meta.DefaultEdit() }

// DefaultCoordinate shows the latest active content on the development path.
func (s *Service) DefaultCoordinate() domain.StampCoordinate {
	return domain.LatestOn(s.meta.DevelopmentPath, domain.ActiveOnly())
}

// Identifiers exposes the identifier space.
func (s *Service) Identifiers() *identifier.Service { return s.ids }

// Stamps exposes the stamp store.
func (s *Service) Stamps() *stamp.Store { return s.stamps }

// Calculator exposes coordinate computations.
func (s *Service) Calculator() *coordinate.Calculator { return s.calc }

// Loader exposes the change-set loader, for directory watchers.
func (s *Service) Loader() *changeset.Loader { return s.loader }

// StateDriver names the backend the datastore persists to.
func (s *Service) StateDriver() domain.StorageDriver { return s.state.Driver() }

// Records returns every commit record in commit order.
func (s *Service) Records() []domain.CommitRecord { return s.commits.Records() }

// PendingNids returns the components with uncommitted versions.
func (s *Service) PendingNids() []int32 { return s.commits.PendingNids() }

// DescribeStamp renders a stamp for diagnostics; unknown sequences get a
// placeholder.
func (s *Service) DescribeStamp(seq int32) string { return s.stamps.DescribeStampSequence(seq) }

// ActiveTasks lists running and queued background tasks.
func (s *Service) ActiveTasks() []task.Info { return s.tasks.Registry().Active() }

// CancelTask cancels a background task by id.
func (s *Service) CancelTask(id string) bool {
	for _, info := range s.ActiveTasks() {
		if info.ID.String() == id {
			return s.tasks.Registry().Cancel(info.ID)
		}
	}
	return false
}

func (s *Service) describeNid(nid int32) string {
	u, err := s.ids.PrimordialUUID(nid)
	if err != nil {
		return fmt.Sprintf("%d", nid)
	}
	return fmt.Sprintf("%d <%s>", nid, u)
}

// hasComponent reports whether nid names a stored chronology or a
// well-known concept.
func (s *Service) hasComponent(nid int32) bool {
	return s.chronos.Has(nid)
}
