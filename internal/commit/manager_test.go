package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"isaac/internal/chronology"
	"isaac/internal/logic"
	"isaac/internal/stamp"
	"isaac/pkg/domain"
)

var edit = domain.EditCoordinate{AuthorNid: -10, ModuleNid: -11, PathNid: -12}

type harness struct {
	stamps  *stamp.Store
	chronos *chronology.Store
	manager *Manager
}

func newHarness(t *testing.T, opts ...Option) harness {
	t.Helper()
	fixed := time.UnixMilli(5_000)
	stamps := stamp.New()
	chronos := chronology.NewStore()
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return harness{stamps: stamps, chronos: chronos, manager: New(stamps, chronos, opts...)}
}

func (h harness) draft() int32 {
	return h.stamps.Intern(edit.UncommittedStamp(domain.StatusActive))
}

func (h harness) concept(t *testing.T, nid int32) *domain.Chronology {
	t.Helper()
	c := domain.NewConceptChronology(nid, uuid.New(), -1, h.stamps)
	if _, err := c.CreateVersion(h.draft(), domain.ConceptData{}); err != nil {
		t.Fatalf("create concept version: %v", err)
	}
	if err := h.manager.AddUncommitted(c); err != nil {
		t.Fatalf("add uncommitted: %v", err)
	}
	return c
}

func (h harness) description(t *testing.T, nid, concept int32, text string) *domain.Chronology {
	t.Helper()
	c, err := domain.NewSemanticChronology(nid, uuid.New(), -2, concept, domain.VersionDescription, h.stamps)
	if err != nil {
		t.Fatalf("new description: %v", err)
	}
	if _, err := c.CreateVersion(h.draft(), domain.DescriptionData{Text: text}); err != nil {
		t.Fatalf("create description version: %v", err)
	}
	if err := h.manager.AddUncommitted(c); err != nil {
		t.Fatalf("add uncommitted: %v", err)
	}
	return c
}

type recordingListener struct {
	records []domain.CommitRecord
	err     error
}

func (l *recordingListener) HandleCommit(_ context.Context, r domain.CommitRecord) error {
	l.records = append(l.records, r)
	return l.err
}

func TestCommitRestampsPendingVersions(t *testing.T) {
	h := newHarness(t)
	listener := &recordingListener{}
	h.manager.AddListener(listener)
	concept := h.concept(t, -100)
	desc := h.description(t, -101, -100, "Heart")

	record, err := h.manager.Commit(context.Background(), "first")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if record.Time() != 5_000 || record.Comment() != "first" {
		t.Fatalf("unexpected record %+v", record)
	}
	if got := record.ConceptNids(); len(got) != 1 || got[0] != -100 {
		t.Fatalf("unexpected concept nids %v", got)
	}
	if got := record.SemanticNids(); len(got) != 1 || got[0] != -101 {
		t.Fatalf("unexpected semantic nids %v", got)
	}
	for _, c := range []*domain.Chronology{concept, desc} {
		for _, seq := range c.StampSequences() {
			st, _ := h.stamps.Stamp(seq)
			if st.IsUncommitted() || st.Time != 5_000 {
				t.Fatalf("version of %d not committed: %+v", c.Nid(), st)
			}
		}
	}
	if len(listener.records) != 1 {
		t.Fatalf("listener not notified")
	}
	if len(h.manager.PendingNids()) != 0 {
		t.Fatalf("pending not cleared")
	}

	h.concept(t, -102)
	second, err := h.manager.Commit(context.Background(), "second")
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if second.Time() != 5_001 {
		t.Fatalf("expected strictly increasing commit time, got %d", second.Time())
	}
	if len(h.manager.Records()) != 2 || h.manager.LastCommitTime() != 5_001 {
		t.Fatalf("unexpected history")
	}
}

func TestFailedRestampLeavesEditsCommittable(t *testing.T) {
	now := int64(5_000)
	h := newHarness(t, WithClock(func() time.Time {
		at := time.UnixMilli(now)
		now += 1_000
		return at
	}))
	desc := h.description(t, -101, -100, "Heart")
	concept := domain.NewConceptChronology(-100, uuid.New(), -1, h.stamps)
	clash := h.stamps.Intern(domain.Stamp{Status: domain.StatusActive, Time: 5_000,
		AuthorNid: edit.AuthorNid, ModuleNid: edit.ModuleNid, PathNid: edit.PathNid})
	if _, err := concept.CreateVersion(clash, domain.ConceptData{}); err != nil {
		t.Fatalf("committed version: %v", err)
	}
	if _, err := concept.CreateVersion(h.draft(), domain.ConceptData{}); err != nil {
		t.Fatalf("draft version: %v", err)
	}
	if err := h.manager.AddUncommitted(concept); err != nil {
		t.Fatalf("add uncommitted: %v", err)
	}

	if _, err := h.manager.Commit(context.Background(), "clashing"); !errors.Is(err, domain.ErrDuplicateStamp) {
		t.Fatalf("expected duplicate stamp failure, got %v", err)
	}
	if len(h.stamps.PendingSequences()) == 0 || len(h.manager.PendingNids()) != 2 {
		t.Fatalf("failed commit must keep edits pending")
	}

	record, err := h.manager.Commit(context.Background(), "retry")
	if err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if got := record.ConceptNids(); len(got) != 1 || got[0] != -100 {
		t.Fatalf("expected concept in retried commit, got %v", got)
	}
	for _, c := range []*domain.Chronology{concept, desc} {
		for _, seq := range c.StampSequences() {
			if h.stamps.IsUncommitted(seq) {
				t.Fatalf("version %d of %d left uncommitted", seq, c.Nid())
			}
		}
	}
	if len(h.stamps.PendingSequences()) != 0 || len(h.manager.PendingNids()) != 0 {
		t.Fatalf("pending state not cleared after retry")
	}
}

func TestCommitBlockedByRules(t *testing.T) {
	h := newHarness(t)
	h.concept(t, -100)
	desc := h.description(t, -101, -100, "  ")
	h.description(t, -103, -999, "Dangling")

	_, err := h.manager.Commit(context.Background(), "blocked")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	rules := map[string]bool{}
	for _, v := range violation.Result.Violations {
		rules[v.Rule] = true
	}
	if !rules["description_text"] || !rules["referenced_component"] {
		t.Fatalf("unexpected violations %+v", violation.Result.Violations)
	}
	if len(h.manager.PendingNids()) != 3 {
		t.Fatalf("blocked commit must keep edits pending")
	}
	v := desc.Versions()[0]
	if err := v.SetData(domain.DescriptionData{Text: "Heart"}); err != nil {
		t.Fatalf("fix text: %v", err)
	}
	if _, err := h.manager.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	st, _ := h.stamps.Stamp(v.StampSequence())
	if !st.IsCanceled() {
		t.Fatalf("expected canceled stamp, got %+v", st)
	}
}

func TestCommitWithLogicGraph(t *testing.T) {
	h := newHarness(t)
	h.concept(t, -100)
	graph, err := domain.NewSemanticChronology(-104, uuid.New(), -3, -100, domain.VersionLogicGraph, h.stamps)
	if err != nil {
		t.Fatalf("graph chronology: %v", err)
	}
	if _, err := graph.CreateVersion(h.draft(), domain.LogicGraphData{Graph: []byte{1, 2}}); err != nil {
		t.Fatalf("graph version: %v", err)
	}
	if err := h.manager.AddUncommitted(graph); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = h.manager.Commit(context.Background(), "bad graph")
	if !errors.As(err, new(domain.RuleViolationError)) {
		t.Fatalf("expected malformed graph to block, got %v", err)
	}

	b := logic.NewBuilder(-100)
	b.Root(b.Necessary(b.ConceptRef(-1)))
	expr, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, _ := logic.Encode(expr)
	if err := graph.Versions()[0].SetData(domain.LogicGraphData{Graph: data}); err != nil {
		t.Fatalf("set graph: %v", err)
	}
	if _, err := h.manager.Commit(context.Background(), "good graph"); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCommitReportsListenerFailureAfterCommitting(t *testing.T) {
	h := newHarness(t)
	h.manager.AddListener(&recordingListener{err: errors.New("index down")})
	h.concept(t, -100)
	target := h.stamps.GetStampSequence(domain.StatusActive, 10, -10, -11, -12)
	alias := h.stamps.GetStampSequence(domain.StatusActive, 10, -10, -11, -13)
	if err := h.manager.AddAlias(alias, target); err != nil {
		t.Fatalf("alias: %v", err)
	}

	record, err := h.manager.Commit(context.Background(), "")
	var lerr *ListenerError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected listener error, got %v", err)
	}
	if record.IsEmpty() || record.StampAliases()[alias] != target {
		t.Fatalf("record should carry the alias: %+v", record.StampAliases())
	}
	if len(h.manager.Records()) != 1 {
		t.Fatalf("commit must be kept despite listener failure")
	}
}

func TestEmptyCommitAndRestore(t *testing.T) {
	h := newHarness(t)
	record, err := h.manager.Commit(context.Background(), "nothing")
	if err != nil || !record.IsEmpty() {
		t.Fatalf("expected empty record, got %+v %v", record, err)
	}
	h.manager.Restore([]domain.CommitRecord{domain.NewCommitRecord(9_000, []int32{1}, nil, nil, nil, "old")})
	h.concept(t, -100)
	next, err := h.manager.Commit(context.Background(), "after restore")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if next.Time() != 9_001 {
		t.Fatalf("commit time must follow restored history, got %d", next.Time())
	}
}
