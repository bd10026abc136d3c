package core

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"isaac/internal/blob"
	"isaac/internal/infra/persistence/memory"
	"isaac/internal/logic"
	"isaac/pkg/domain"
)

// stepClock advances one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(newStepClock())}, opts...)
	svc, err := Open(context.Background(), opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

// conceptUnderRoot creates a concept with an English regular name and a
// stated graph placing it under parent.
func conceptUnderRoot(t *testing.T, svc *Service, name string, parent int32) (int32, int32) {
	t.Helper()
	ctx := context.Background()
	nid, err := svc.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("create concept %s: %v", name, err)
	}
	desc, err := svc.AddDescription(ctx, domain.EditCoordinate{}, nid, domain.DescriptionData{Text: name})
	if err != nil {
		t.Fatalf("add description %s: %v", name, err)
	}
	setParents(t, svc, nid, parent)
	return nid, desc
}

func setParents(t *testing.T, svc *Service, nid int32, parents ...int32) {
	t.Helper()
	b := logic.NewBuilder(nid)
	refs := make([]int, 0, len(parents))
	for _, p := range parents {
		refs = append(refs, b.ConceptRef(p))
	}
	b.Root(b.Necessary(b.And(refs...)))
	expr, err := b.Build()
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	if _, err := svc.SetLogicGraph(context.Background(), domain.EditCoordinate{}, domain.PremiseStated, expr); err != nil {
		t.Fatalf("set logic graph: %v", err)
	}
}

func descriptionText(t *testing.T, svc *Service, nid int32, coord domain.StampCoordinate) string {
	t.Helper()
	text, ok, err := svc.GetLatestDescription(nid, coord)
	if err != nil {
		t.Fatalf("latest description %d: %v", nid, err)
	}
	if !ok {
		return ""
	}
	return text
}

func TestOpenBootstrapsMetadata(t *testing.T) {
	state := memory.NewStore()
	svc := openService(t, WithStateStore(state))
	meta := svc.Metadata()

	if meta.Root != math.MinInt32+1 {
		t.Fatalf("expected root to take the first nid, got %d", meta.Root)
	}
	if meta.IsA >= 0 || meta.DevelopmentPath >= 0 {
		t.Fatalf("expected negative nids, got %+v", meta)
	}
	if got := descriptionText(t, svc, meta.IsA, svc.DefaultCoordinate()); got != domain.MetaIsA {
		t.Fatalf("expected fully qualified name %q, got %q", domain.MetaIsA, got)
	}
	records := svc.Records()
	if len(records) != 1 || records[0].Comment() != "metadata" {
		t.Fatalf("expected one metadata commit record, got %+v", records)
	}
	if state.Saves() != 1 {
		t.Fatalf("expected bootstrap to save once, got %d", state.Saves())
	}

	snap, err := svc.GetTaxonomySnapshot(context.Background(), svc.DefaultCoordinate(), domain.PremiseStated)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !slices.Equal(snap.ParentConceptNids(meta.IsA), []int32{meta.Root}) {
		t.Fatalf("expected is-a under root, got %v", snap.ParentConceptNids(meta.IsA))
	}
	if roots := snap.Roots(); !slices.Equal(roots, []int32{meta.Root}) {
		t.Fatalf("expected the root to be the only root, got %v", roots)
	}
}

func TestAuthoringCommitAndLatestVersion(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	svc := openService(t, WithBlobStore(blobs, "exchange"))
	meta := svc.Metadata()

	nid, desc := conceptUnderRoot(t, svc, "Heart disease", meta.Root)
	if pending := svc.PendingNids(); len(pending) != 3 {
		t.Fatalf("expected concept, description and graph pending, got %v", pending)
	}

	latest := svc.DefaultCoordinate()
	if got := descriptionText(t, svc, nid, latest); got != "Heart disease" {
		t.Fatalf("expected uncommitted text at latest, got %q", got)
	}
	past := domain.NewStampCoordinate(domain.StampPosition{PathNid: meta.DevelopmentPath, Time: domain.StampTime(time.Now())}, domain.ActiveOnly())
	if got := descriptionText(t, svc, nid, past); got != "" {
		t.Fatalf("expected uncommitted text hidden from fixed time, got %q", got)
	}

	record, err := svc.Commit(ctx, "heart")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !slices.Contains(record.ConceptNids(), nid) || !slices.Contains(record.SemanticNids(), desc) {
		t.Fatalf("expected record to list concept and description, got %+v", record.ChangedNids())
	}
	if len(svc.PendingNids()) != 0 {
		t.Fatalf("expected nothing pending after commit")
	}
	v, err := svc.GetLatestVersion(desc, latest)
	if err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if st, _ := svc.Stamps().Stamp(v.Value().StampSequence()); st.Time != record.Time() {
		t.Fatalf("expected version stamped with commit time %d, got %d", record.Time(), st.Time)
	}

	infos, err := blobs.List(ctx, "exchange")
	if err != nil {
		t.Fatalf("list change sets: %v", err)
	}
	if len(infos) != 1 || !strings.HasSuffix(infos[0].Key, ".ibdf") {
		t.Fatalf("expected one change-set file, got %+v", infos)
	}

	snap, err := svc.GetTaxonomySnapshot(ctx, latest, domain.PremiseStated)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsKindOf(nid, meta.Root) {
		t.Fatalf("expected concept to be a kind of root")
	}

	if _, err := svc.GetLatestVersion(12345, latest); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown nid, got %v", err)
	}
	empty, err := svc.Commit(ctx, "nothing")
	if err != nil || !empty.IsEmpty() {
		t.Fatalf("expected empty commit record, got %+v err=%v", empty, err)
	}
}

func TestEditAndRetire(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	meta := svc.Metadata()
	nid, desc := conceptUnderRoot(t, svc, "Lung disease", meta.Root)
	if _, err := svc.Commit(ctx, "lung"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	edited := domain.DescriptionData{
		Text:                "Disorder of lung",
		CaseSignificanceNid: meta.CaseInsensitive,
		LanguageNid:         meta.EnglishLanguage,
		DescriptionTypeNid:  meta.RegularName,
	}
	if err := svc.EditVersion(ctx, domain.EditCoordinate{}, desc, domain.StatusActive, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}
	edited.Text = "Lung disorder"
	if err := svc.EditVersion(ctx, domain.EditCoordinate{}, desc, domain.StatusActive, edited); err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if _, err := svc.Commit(ctx, "rename"); err != nil {
		t.Fatalf("commit rename: %v", err)
	}
	c, _ := svc.chronos.Get(desc)
	if got := len(c.Versions()); got != 2 {
		t.Fatalf("expected repeated edits to share one version, got %d versions", got)
	}
	if got := descriptionText(t, svc, nid, svc.DefaultCoordinate()); got != "Lung disorder" {
		t.Fatalf("expected edited text, got %q", got)
	}

	if err := svc.RetireComponent(ctx, domain.EditCoordinate{}, nid); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := svc.Commit(ctx, "retire"); err != nil {
		t.Fatalf("commit retire: %v", err)
	}
	if v, _ := svc.GetLatestVersion(nid, svc.DefaultCoordinate()); v.IsPresent() {
		t.Fatalf("expected retired concept hidden from active-only coordinate")
	}
	all := domain.LatestOn(meta.DevelopmentPath, domain.ActiveAndInactive())
	v, _ := svc.GetLatestVersion(nid, all)
	if !v.IsPresent() {
		t.Fatalf("expected inactive version visible with inactive statuses allowed")
	}
	if st, _ := svc.Stamps().Stamp(v.Value().StampSequence()); st.Status != domain.StatusInactive {
		t.Fatalf("expected inactive status, got %s", st.Status)
	}

	if err := svc.EditVersion(ctx, domain.EditCoordinate{}, nid, domain.StatusCanceled, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected canceled edits rejected, got %v", err)
	}
	if err := svc.RetireComponent(ctx, domain.EditCoordinate{}, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound retiring unknown nid, got %v", err)
	}
}

func TestEditThenRetireInOneCommit(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	meta := svc.Metadata()
	nid, desc := conceptUnderRoot(t, svc, "Heart", meta.Root)
	if _, err := svc.Commit(ctx, "heart"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	renamed := domain.DescriptionData{
		Text:                "Heart structure",
		CaseSignificanceNid: meta.CaseInsensitive,
		LanguageNid:         meta.EnglishLanguage,
		DescriptionTypeNid:  meta.RegularName,
	}
	if err := svc.EditVersion(ctx, domain.EditCoordinate{}, desc, domain.StatusActive, renamed); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := svc.RetireComponent(ctx, domain.EditCoordinate{}, desc); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := svc.Commit(ctx, "rename and retire"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	c, _ := svc.chronos.Get(desc)
	if got := len(c.Versions()); got != 2 {
		t.Fatalf("expected one version per commit, got %d", got)
	}
	if v, _ := svc.GetLatestVersion(desc, svc.DefaultCoordinate()); v.IsPresent() {
		t.Fatalf("expected retired description hidden from active-only coordinate")
	}
	if got := descriptionText(t, svc, nid, svc.DefaultCoordinate()); got != "" {
		t.Fatalf("expected no active description, got %q", got)
	}
	all := domain.LatestOn(meta.DevelopmentPath, domain.ActiveAndInactive())
	v, err := svc.GetLatestVersion(desc, all)
	if err != nil || !v.IsPresent() || v.IsContradicted() {
		t.Fatalf("expected one uncontradicted latest version, got present=%v contradicted=%v err=%v", v.IsPresent(), v.IsContradicted(), err)
	}
	if st, _ := svc.Stamps().Stamp(v.Value().StampSequence()); st.Status != domain.StatusInactive {
		t.Fatalf("expected inactive latest version, got %s", st.Status)
	}
	if data, ok := v.Value().Data().(domain.DescriptionData); !ok || data.Text != "Heart structure" {
		t.Fatalf("expected retired version to keep the edited text, got %+v", v.Value().Data())
	}

	if err := svc.RetireComponent(ctx, domain.EditCoordinate{}, nid); err != nil {
		t.Fatalf("retire concept: %v", err)
	}
	if err := svc.EditVersion(ctx, domain.EditCoordinate{}, nid, domain.StatusActive, nil); err != nil {
		t.Fatalf("reactivate concept: %v", err)
	}
	if got := len(svc.Stamps().PendingSequences()); got != 2 {
		t.Fatalf("expected both draft stamps pending before commit, got %d", got)
	}
	if _, err := svc.Commit(ctx, "reactivate"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v, _ := svc.GetLatestVersion(nid, svc.DefaultCoordinate()); !v.IsPresent() || v.IsContradicted() {
		t.Fatalf("expected the reactivated concept to win alone")
	}
	if got := len(svc.Stamps().PendingSequences()); got != 0 {
		t.Fatalf("expected no pending stamps after commit, got %d", got)
	}
}

func TestBlockedCommitKeepsEditsUntilCancel(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	nid, err := svc.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddDescription(ctx, domain.EditCoordinate{}, nid, domain.DescriptionData{Text: "  "}); err != nil {
		t.Fatalf("add description: %v", err)
	}
	before := len(svc.Records())
	_, err = svc.Commit(ctx, "blank")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(svc.Records()) != before {
		t.Fatalf("expected no commit record for a blocked commit")
	}
	if len(svc.PendingNids()) != 2 {
		t.Fatalf("expected edits to stay pending, got %v", svc.PendingNids())
	}

	canceled, err := svc.Cancel(ctx)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(canceled) != 2 || len(svc.PendingNids()) != 0 {
		t.Fatalf("expected both edits canceled, got %v pending=%v", canceled, svc.PendingNids())
	}
	all := domain.LatestOn(svc.Metadata().DevelopmentPath, domain.ActiveAndInactive())
	if v, _ := svc.GetLatestVersion(nid, all); v.IsPresent() {
		t.Fatalf("expected canceled version to be invisible")
	}
}

func TestReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	state := memory.NewStore()
	first, err := Open(ctx, WithStateStore(state), WithClock(newStepClock()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := uuid.New()
	nid, err := first.CreateConcept(ctx, domain.EditCoordinate{}, id)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.AddDescription(ctx, domain.EditCoordinate{}, nid, domain.DescriptionData{Text: "Persisted"}); err != nil {
		t.Fatalf("describe: %v", err)
	}
	if _, err := first.Commit(ctx, "persist"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	draft, err := first.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := first.CreateConcept(ctx, domain.EditCoordinate{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	second := openService(t, WithStateStore(state))
	got, err := second.Identifiers().GetNidForUuids(id)
	if err != nil || got != nid {
		t.Fatalf("expected nid %d restored, got %d err=%v", nid, got, err)
	}
	if text := descriptionText(t, second, nid, second.DefaultCoordinate()); text != "Persisted" {
		t.Fatalf("expected restored description, got %q", text)
	}
	if len(second.Records()) != 2 {
		t.Fatalf("expected metadata and persist records, got %d", len(second.Records()))
	}
	if !slices.Equal(second.PendingNids(), []int32{draft}) {
		t.Fatalf("expected uncommitted draft restored as pending, got %v", second.PendingNids())
	}
}

func TestChangeSetsMoveBetweenDatastores(t *testing.T) {
	ctx := context.Background()
	shared := blob.NewMemory()
	source := openService(t, WithBlobStore(shared, ""))
	id := uuid.New()
	nid, err := source.CreateConcept(ctx, domain.EditCoordinate{}, id)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := source.AddDescription(ctx, domain.EditCoordinate{}, nid, domain.DescriptionData{Text: "Exported concept"}); err != nil {
		t.Fatalf("describe: %v", err)
	}
	setParents(t, source, nid, source.Metadata().Root)
	if _, err := source.Commit(ctx, "export"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	own, err := source.ImportChangeSets(ctx)
	if err != nil || own.FilesSkipped != 1 {
		t.Fatalf("expected the source to skip its own change set, got %+v err=%v", own, err)
	}

	target := openService(t, WithBlobStore(shared, DefaultChangeSetPrefix))
	sum, err := target.ImportChangeSets(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.RecordsFailed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	imported, err := target.Identifiers().GetNidForUuids(id)
	if err != nil {
		t.Fatalf("expected imported uuid: %v", err)
	}
	if text := descriptionText(t, target, imported, target.DefaultCoordinate()); text != "Exported concept" {
		t.Fatalf("expected imported description, got %q", text)
	}
	snap, err := target.GetTaxonomySnapshot(ctx, target.DefaultCoordinate(), domain.PremiseStated)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsKindOf(imported, target.Metadata().Root) {
		t.Fatalf("expected imported concept under root")
	}
	if got := target.Records()[len(target.Records())-1].Comment(); got != "export" {
		t.Fatalf("expected imported commit record, got %q", got)
	}

	again, err := target.ImportChangeSets(ctx)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.FilesProcessed != 0 || again.FilesSkipped != 1 {
		t.Fatalf("expected second import to skip, got %+v", again)
	}
}

func TestQueryMatchesLatestDescriptions(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	meta := svc.Metadata()
	heart, _ := conceptUnderRoot(t, svc, "Heart disease", meta.Root)
	lung, _ := conceptUnderRoot(t, svc, "Lung Disease", meta.Root)
	conceptUnderRoot(t, svc, "Fracture", meta.Root)
	if _, err := svc.Commit(ctx, "disorders"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	hits, err := svc.Query(ctx, svc.DefaultCoordinate(), "DISEASE", QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var concepts []int32
	for _, h := range hits {
		concepts = append(concepts, h.ConceptNid)
	}
	slices.Sort(concepts)
	want := []int32{heart, lung}
	slices.Sort(want)
	if !slices.Equal(concepts, want) {
		t.Fatalf("expected heart and lung, got %+v", hits)
	}

	limited, _ := svc.Query(ctx, svc.DefaultCoordinate(), "disease", QueryFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d hits", len(limited))
	}
	fqn, _ := svc.Query(ctx, svc.DefaultCoordinate(), "disease", QueryFilter{DescriptionTypeNids: []int32{meta.FullyQualifiedName}})
	if len(fqn) != 0 {
		t.Fatalf("expected regular names filtered out, got %+v", fqn)
	}
	meta2, _ := svc.Query(ctx, svc.DefaultCoordinate(), "path", QueryFilter{DescriptionTypeNids: []int32{meta.FullyQualifiedName}})
	if len(meta2) != 2 {
		t.Fatalf("expected master and development path names, got %+v", meta2)
	}
}

func TestCheckTaxonomyReportsCyclesAndOrphans(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	a, err := svc.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := svc.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	orphan, err := svc.CreateConcept(ctx, domain.EditCoordinate{})
	if err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	setParents(t, svc, a, b)
	setParents(t, svc, b, a)
	if _, err := svc.Commit(ctx, "cycle"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	results, err := svc.CheckTaxonomy(ctx, svc.DefaultCoordinate(), domain.PremiseStated)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !results.CycleContains(a) || !results.CycleContains(b) {
		t.Fatalf("expected a cycle through a and b, got %+v", results.Cycles)
	}
	if !slices.Contains(results.Orphans, orphan) {
		t.Fatalf("expected orphan reported, got %v", results.Orphans)
	}
	if len(svc.ActiveTasks()) != 0 {
		t.Fatalf("expected the task registry to be empty after the check")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := svc.CheckTaxonomy(canceled, svc.DefaultCoordinate(), domain.PremiseStated); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled check, got %v", err)
	}
}

func TestPathsAndStampAliases(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	meta := svc.Metadata()
	path, _ := conceptUnderRoot(t, svc, "Release path", meta.Root)
	if err := svc.AddPath(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown path concept rejected, got %v", err)
	}
	if _, err := svc.Commit(ctx, "path concept"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := svc.AddPath(ctx, path); err != nil {
		t.Fatalf("add path: %v", err)
	}

	nid, desc := conceptUnderRoot(t, svc, "Promoted", meta.Root)
	if _, err := svc.Commit(ctx, "promoted"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	release := domain.LatestOn(path, domain.ActiveOnly())
	if got := descriptionText(t, svc, nid, release); got != "" {
		t.Fatalf("expected development content hidden on release path, got %q", got)
	}

	v, _ := svc.GetLatestVersion(desc, svc.DefaultCoordinate())
	target := v.Value().StampSequence()
	edit := meta.DefaultEdit()
	alias := svc.Stamps().GetStampSequence(domain.StatusActive, math.MaxInt64-1, edit.AuthorNid, edit.ModuleNid, path)
	if err := svc.AddStampAlias(ctx, alias, target); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if got := descriptionText(t, svc, nid, release); got != "Promoted" {
		t.Fatalf("expected aliased content visible on release path, got %q", got)
	}
	record, err := svc.Commit(ctx, "alias")
	if err != nil {
		t.Fatalf("commit alias: %v", err)
	}
	if record.StampAliases()[alias] != target {
		t.Fatalf("expected alias listed in commit record, got %v", record.StampAliases())
	}
	if err := svc.AddStampAlias(ctx, target, alias); !errors.Is(err, domain.ErrAliasCycle) {
		t.Fatalf("expected alias cycle rejected, got %v", err)
	}
}

func TestReadsProceedAlongsideOtherReaders(t *testing.T) {
	ctx := context.Background()
	svc := openService(t)
	nid, _ := conceptUnderRoot(t, svc, "Shared reads", svc.Metadata().Root)
	if _, err := svc.Commit(ctx, "shared"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Hold a read lock the way a long query would.
	release, err := svc.rlock()
	if err != nil {
		t.Fatalf("rlock: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		if _, err := svc.GetLatestVersion(nid, svc.DefaultCoordinate()); err != nil {
			done <- err
			return
		}
		if _, _, err := svc.GetLatestDescription(nid, svc.DefaultCoordinate()); err != nil {
			done <- err
			return
		}
		_, err := svc.Query(ctx, svc.DefaultCoordinate(), "shared", QueryFilter{})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	case <-time.After(2 * time.Second):
		release()
		t.Fatalf("reads blocked behind another reader")
	}
	release()

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.GetLatestVersion(nid, svc.DefaultCoordinate()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
