// Package commit turns uncommitted edits into committed versions and keeps
// the history of commit records.
package commit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"isaac/internal/chronology"
	"isaac/internal/stamp"
	"isaac/pkg/domain"
)

// ListenerError reports listeners that failed after a successful commit.
type ListenerError struct {
	Err error
}

func (e *ListenerError) Error() string { return "commit listeners: " + e.Err.Error() }

func (e *ListenerError) Unwrap() error { return e.Err }

// Manager coordinates commits. Edits are registered with AddUncommitted;
// Commit checks them against the rules engine, interns committed twins of
// every pending stamp and notifies listeners.
type Manager struct {
	stamps  *stamp.Store
	chronos *chronology.Store
	engine  *domain.RulesEngine
	logger  domain.Logger
	now     func() time.Time
	hasNid  func(nid int32) bool

	mu        sync.Mutex
	lastTime  int64
	pending   map[int32]struct{}
	aliases   map[int32]int32
	records   []domain.CommitRecord
	listeners []domain.CommitListener
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger domain.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the source of commit times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRulesEngine replaces the default change checkers.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(m *Manager) {
		if engine != nil {
			m.engine = engine
		}
	}
}

// WithNidChecker decides which nids rules treat as known. The default
// accepts nids present in the chronology store.
func WithNidChecker(fn func(nid int32) bool) Option {
	return func(m *Manager) {
		if fn != nil {
			m.hasNid = fn
		}
	}
}

// New creates a manager over the given stores.
func New(stamps *stamp.Store, chronos *chronology.Store, opts ...Option) *Manager {
	m := &Manager{
		stamps:  stamps,
		chronos: chronos,
		engine:  NewDefaultRulesEngine(),
		logger:  domain.NoopLogger{},
		now:     time.Now,
		pending: make(map[int32]struct{}),
		aliases: make(map[int32]int32),
	}
	m.hasNid = chronos.Has
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers l for every later commit.
func (m *Manager) AddListener(l domain.CommitListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddUncommitted stores c and marks it as carrying uncommitted versions.
func (m *Manager) AddUncommitted(c *domain.Chronology) error {
	if err := m.chronos.Put(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[c.Nid()] = struct{}{}
	return nil
}

// PendingNids returns the nids awaiting commit, ascending.
func (m *Manager) PendingNids() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SortedNids(m.pending)
}

// AddAlias registers a stamp alias; it is listed in the next commit record.
func (m *Manager) AddAlias(alias, target int32) error {
	if err := m.stamps.AddAlias(alias, target); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[alias] = target
	return nil
}

type ruleView struct {
	m *Manager
}

func (v ruleView) Chronology(nid int32) (*domain.Chronology, bool) { return v.m.chronos.Get(nid) }
func (v ruleView) HasNid(nid int32) bool                           { return v.m.hasNid(nid) }
func (v ruleView) Stamp(seq int32) (domain.Stamp, bool)            { return v.m.stamps.Stamp(seq) }

func (m *Manager) changes() []domain.Change {
	var out []domain.Change
	for _, nid := range domain.SortedNids(m.pending) {
		c, ok := m.chronos.Get(nid)
		if !ok {
			continue
		}
		var seqs []int32
		for _, seq := range c.StampSequences() {
			if m.stamps.IsUncommitted(seq) {
				seqs = append(seqs, seq)
			}
		}
		out = append(out, domain.Change{Nid: nid, ObjectType: c.ObjectType(), Chronology: c, StampSequences: seqs})
	}
	return out
}

// nextTime returns a commit time strictly after the previous commit.
func (m *Manager) nextTime() int64 {
	t := domain.StampTime(m.now())
	if t <= m.lastTime {
		t = m.lastTime + 1
	}
	return t
}

// Commit records every pending edit. A blocking rule violation returns a
// domain.RuleViolationError and leaves the edits uncommitted. Listener
// failures are returned as *ListenerError alongside the committed record.
func (m *Manager) Commit(ctx context.Context, comment string) (domain.CommitRecord, error) {
	m.mu.Lock()
	changes := m.changes()
	if len(changes) == 0 && len(m.aliases) == 0 {
		m.mu.Unlock()
		return domain.NewCommitRecord(m.lastTime, nil, nil, nil, nil, comment), nil
	}
	res, err := m.engine.Evaluate(ctx, ruleView{m: m}, changes)
	if err != nil {
		m.mu.Unlock()
		return domain.CommitRecord{}, fmt.Errorf("evaluate change checkers: %w", err)
	}
	if res.HasBlocking() {
		m.mu.Unlock()
		return domain.CommitRecord{}, domain.RuleViolationError{Result: res}
	}
	for _, v := range res.Violations {
		m.logger.Warn("change checker", "rule", v.Rule, "severity", string(v.Severity), "nid", v.Nid, "message", v.Message)
	}

	commitTime := m.nextTime()
	var conceptNids, semanticNids, committed []int32
	seen := make(map[int32]struct{})
	for _, change := range changes {
		for _, seq := range change.StampSequences {
			to, err := m.stamps.CommittedTwin(seq, commitTime)
			if err != nil {
				m.mu.Unlock()
				return domain.CommitRecord{}, fmt.Errorf("commit stamp %d of %d: %w", seq, change.Nid, err)
			}
			if err := change.Chronology.Restamp(seq, to); err != nil {
				m.mu.Unlock()
				return domain.CommitRecord{}, fmt.Errorf("restamp %d: %w", change.Nid, err)
			}
			if _, ok := seen[to]; !ok {
				seen[to] = struct{}{}
				committed = append(committed, to)
			}
		}
		if change.ObjectType == domain.ObjectConcept {
			conceptNids = append(conceptNids, change.Nid)
		} else {
			semanticNids = append(semanticNids, change.Nid)
		}
	}
	m.stamps.ClearPending()
	slices.Sort(committed)
	record := domain.NewCommitRecord(commitTime, committed, m.aliases, conceptNids, semanticNids, comment)
	m.records = append(m.records, record)
	m.lastTime = commitTime
	m.pending = make(map[int32]struct{})
	m.aliases = make(map[int32]int32)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.logger.Info("commit recorded", "time", domain.FormatStampTime(commitTime), "stamps", len(committed), "concepts", len(conceptNids), "semantics", len(semanticNids))

	var errs []error
	for _, l := range listeners {
		if err := l.HandleCommit(ctx, record); err != nil {
			m.logger.Error("commit listener failed", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return record, &ListenerError{Err: errors.Join(errs...)}
	}
	return record, nil
}

// Cancel discards every pending edit by restamping it as canceled. It
// returns the nids that carried canceled versions.
func (m *Manager) Cancel(context.Context) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := m.changes()
	var nids []int32
	for _, change := range changes {
		for _, seq := range change.StampSequences {
			to, err := m.stamps.CanceledTwin(seq)
			if err != nil {
				return nids, fmt.Errorf("cancel stamp %d of %d: %w", seq, change.Nid, err)
			}
			if err := change.Chronology.Restamp(seq, to); err != nil {
				return nids, fmt.Errorf("cancel %d: %w", change.Nid, err)
			}
		}
		nids = append(nids, change.Nid)
	}
	m.stamps.ClearPending()
	m.pending = make(map[int32]struct{})
	m.aliases = make(map[int32]int32)
	m.logger.Info("pending edits canceled", "nids", len(nids))
	return nids, nil
}

// Records returns every commit record in commit order.
func (m *Manager) Records() []domain.CommitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// LastCommitTime returns the time of the latest commit, or zero.
func (m *Manager) LastCommitTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTime
}

// Restore replaces the history with records loaded from storage.
func (m *Manager) Restore(records []domain.CommitRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = slices.Clone(records)
	m.lastTime = 0
	for _, r := range records {
		m.lastTime = max(m.lastTime, r.Time())
	}
}

// Append adds a record produced elsewhere, such as an imported change set.
func (m *Manager) Append(record domain.CommitRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	m.lastTime = max(m.lastTime, record.Time())
}
