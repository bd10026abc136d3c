package changeset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"isaac/internal/blob"
	"isaac/internal/blob/core"
	"isaac/internal/identifier"
	"isaac/internal/logic"
	"isaac/internal/stamp"
	"isaac/pkg/domain"
)

type source struct {
	ids    *identifier.Service
	stamps *stamp.Store
	nid    map[string]int32
	seq    int32
	alias  int32
}

func newSource(t *testing.T) *source {
	t.Helper()
	s := &source{ids: identifier.New(), stamps: stamp.New(), nid: map[string]int32{}}
	for _, name := range []string{"author", "module", "path", "descAsm", "statedAsm", "conceptAsm", "heart", "disorder", "isa"} {
		nid, err := s.ids.AssignNid(domain.MetadataUUID(name))
		require.NoError(t, err)
		s.nid[name] = nid
	}
	s.seq = s.stamps.GetStampSequence(domain.StatusActive, 1000, s.nid["author"], s.nid["module"], s.nid["path"])
	s.alias = s.stamps.GetStampSequence(domain.StatusActive, 1000, s.nid["author"], s.nid["module"], s.nid["disorder"])
	require.NoError(t, s.stamps.AddAlias(s.alias, s.seq))
	return s
}

func (s *source) chronologies(t *testing.T) []*domain.Chronology {
	t.Helper()
	concept := domain.NewConceptChronology(s.nid["heart"], domain.MetadataUUID("heart"), s.nid["conceptAsm"], s.stamps)
	_, err := concept.CreateVersion(s.seq, domain.ConceptData{})
	require.NoError(t, err)

	descNid, err := s.ids.AssignNid(uuid.NewSHA1(uuid.NameSpaceURL, []byte("desc")))
	require.NoError(t, err)
	desc, err := domain.NewSemanticChronology(descNid, uuid.NewSHA1(uuid.NameSpaceURL, []byte("desc")), s.nid["descAsm"], s.nid["heart"], domain.VersionDescription, s.stamps)
	require.NoError(t, err)
	_, err = desc.CreateVersion(s.seq, domain.DescriptionData{Text: "Heart", LanguageNid: s.nid["module"]})
	require.NoError(t, err)

	graphUUID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("graph"))
	graphNid, err := s.ids.AssignNid(graphUUID)
	require.NoError(t, err)
	graph, err := domain.NewSemanticChronology(graphNid, graphUUID, s.nid["statedAsm"], s.nid["heart"], domain.VersionLogicGraph, s.stamps)
	require.NoError(t, err)
	b := logic.NewBuilder(s.nid["heart"])
	b.Root(b.Necessary(b.And(b.ConceptRef(s.nid["disorder"]))))
	expr, err := b.Build()
	require.NoError(t, err)
	data, err := logic.Encode(expr)
	require.NoError(t, err)
	_, err = graph.CreateVersion(s.seq, domain.LogicGraphData{Graph: data})
	require.NoError(t, err)
	return []*domain.Chronology{concept, desc, graph}
}

func (s *source) file(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, s.ids, s.stamps)
	chronologies := s.chronologies(t)
	for _, c := range chronologies {
		require.NoError(t, w.WriteChronology(c))
	}
	require.NoError(t, w.WriteStampAlias(s.alias, s.seq))
	rec := domain.NewCommitRecord(1000, []int32{s.seq}, map[int32]int32{s.alias: s.seq},
		[]int32{s.nid["heart"]}, []int32{chronologies[1].Nid(), chronologies[2].Nid()}, "import")
	require.NoError(t, w.WriteCommitRecord(rec))
	require.Equal(t, 5, w.Count())
	return buf.Bytes()
}

// target offsets every nid so translation through UUIDs is observable.
func targetResolver(t *testing.T) (*identifier.Service, func(uuid.UUID) (int32, error)) {
	t.Helper()
	ids := identifier.New()
	for i := 0; i < 50; i++ {
		_, err := ids.AssignNid(uuid.New())
		require.NoError(t, err)
	}
	return ids, func(u uuid.UUID) (int32, error) { return ids.AssignNid(u) }
}

func TestWriteReadRoundTrip(t *testing.T) {
	src := newSource(t)
	data := src.file(t)
	ids, resolve := targetResolver(t)

	items, err := ReadAll(bytes.NewReader(data), resolve)
	require.NoError(t, err)
	require.Len(t, items, 5)

	heartNid, err := ids.GetNidForUuids(domain.MetadataUUID("heart"))
	require.NoError(t, err)
	require.NotEqual(t, src.nid["heart"], heartNid)

	concept := items[0].Chronology
	require.Equal(t, ObjectConcept, items[0].Type)
	require.Equal(t, domain.MetadataUUID("heart"), concept.PrimaryUUID())
	require.Len(t, concept.Versions, 1)
	require.Equal(t, int64(1000), concept.Versions[0].Stamp.Time)

	desc := items[1].Chronology
	require.Equal(t, heartNid, desc.ReferencedNid)
	text := desc.Versions[0].Data.(domain.DescriptionData)
	require.Equal(t, "Heart", text.Text)

	graph := items[2].Chronology
	expr, err := logic.Decode(graph.Versions[0].Data.(domain.LogicGraphData).Graph)
	require.NoError(t, err)
	disorderNid, err := ids.GetNidForUuids(domain.MetadataUUID("disorder"))
	require.NoError(t, err)
	require.Equal(t, heartNid, expr.ConceptNid())
	require.Equal(t, []int32{disorderNid}, logic.Parents(expr, src.nid["isa"]))

	alias := items[3].Alias
	require.Equal(t, disorderNid, alias.Alias.PathNid)

	commit := items[4].Commit
	require.Equal(t, "import", commit.Comment)
	require.Len(t, commit.Stamps, 1)
	require.Len(t, commit.Aliases, 1)
	require.Equal(t, []int32{heartNid}, commit.ConceptNids)
	require.Len(t, commit.SemanticNids, 2)
}

func TestReaderRejectsUnknownFormatVersion(t *testing.T) {
	src := newSource(t)
	data := src.file(t)
	data[1] = FormatVersion + 1
	_, resolve := targetResolver(t)
	_, err := NewReader(bytes.NewReader(data), resolve).Next()
	require.ErrorIs(t, err, domain.ErrUnknownFormatVersion)
	require.False(t, IsRecordError(err))

	_, err = NewReader(bytes.NewReader(data[:1]), resolve).Next()
	require.ErrorIs(t, err, domain.ErrCorruptState)
}

type recordingApplier struct {
	mu           sync.Mutex
	chronology   []ChronologyItem
	aliases      int
	commits      int
	failSemantic bool
}

func (a *recordingApplier) ApplyChronology(_ context.Context, item ChronologyItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSemantic && item.ObjectType == domain.ObjectSemantic {
		return errors.New("semantic rejected")
	}
	a.chronology = append(a.chronology, item)
	return nil
}

func (a *recordingApplier) ApplyStampAlias(context.Context, AliasItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliases++
	return nil
}

func (a *recordingApplier) ApplyCommitRecord(context.Context, CommitItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commits++
	return nil
}

func TestLoaderIsolatesRecordsAndIsIdempotent(t *testing.T) {
	src := newSource(t)
	data := src.file(t)
	// A stamp-alias record whose payload is too short to decode.
	data = append(data, byte(ObjectStampAlias), FormatVersion, 3, 1, 2, 3)
	_, resolve := targetResolver(t)
	applier := &recordingApplier{failSemantic: true}
	loader := NewLoader(applier, resolve)

	sum, err := loader.LoadFile(context.Background(), "dir/0001.ibdf", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, sum.FilesProcessed)
	require.Equal(t, 3, sum.RecordsLoaded)
	require.Equal(t, 3, sum.RecordsFailed)
	require.Len(t, sum.Errors, 3)
	require.Len(t, applier.chronology, 1)
	require.Equal(t, 1, applier.commits)

	again, err := loader.LoadFile(context.Background(), "other/0001.ibdf", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, again.FilesSkipped)
	require.Zero(t, again.RecordsLoaded)
	require.Equal(t, []string{"0001.ibdf"}, loader.Processed())
}

func TestLoaderAbortsFileOnUnknownVersion(t *testing.T) {
	src := newSource(t)
	data := src.file(t)
	data[1] = 9
	_, resolve := targetResolver(t)
	loader := NewLoader(&recordingApplier{}, resolve)
	_, err := loader.LoadFile(context.Background(), "bad.ibdf", bytes.NewReader(data))
	require.ErrorIs(t, err, domain.ErrUnknownFormatVersion)
	require.False(t, loader.IsProcessed("bad.ibdf"))
}

func TestLoadStore(t *testing.T) {
	ctx := context.Background()
	src := newSource(t)
	store := blob.NewMemory()
	for _, key := range []string{"changesets/0002.ibdf", "changesets/0001.ibdf"} {
		_, err := store.Put(ctx, key, bytes.NewReader(src.file(t)), core.PutOptions{})
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "changesets/readme.txt", strings.NewReader("x"), core.PutOptions{})
	require.NoError(t, err)

	_, resolve := targetResolver(t)
	applier := &recordingApplier{}
	loader := NewLoader(applier, resolve)
	loader.MarkProcessed("0002.ibdf")

	sum, err := loader.LoadStore(ctx, store, "changesets/")
	require.NoError(t, err)
	require.Equal(t, 1, sum.FilesProcessed)
	require.Equal(t, 1, sum.FilesSkipped)
	require.Equal(t, 5, sum.RecordsLoaded)
	require.Len(t, applier.chronology, 3)
}

func TestWatcherImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	src := newSource(t)
	_, resolve := targetResolver(t)
	loader := NewLoader(&recordingApplier{}, resolve)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.ibdf"), src.file(t), 0o644))

	loaded := make(chan string, 4)
	w := NewWatcher(dir, loader, WithDebounce(10*time.Millisecond), WithLoadCallback(func(name string, _ Summary, err error) {
		if err == nil {
			loaded <- filepath.Base(name)
		}
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor := func(name string) {
		t.Helper()
		select {
		case got := <-loaded:
			require.Equal(t, name, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", name)
		}
	}
	waitFor("0001.ibdf")

	tmp := filepath.Join(dir, "0002.tmp")
	require.NoError(t, os.WriteFile(tmp, src.file(t), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "0002.ibdf")))
	waitFor("0002.ibdf")

	cancel()
	require.NoError(t, <-done)
	require.True(t, loader.IsProcessed("0002.ibdf"))
}

func TestWatcherRunWaitsForRunningImport(t *testing.T) {
	dir := t.TempDir()
	src := newSource(t)
	_, resolve := targetResolver(t)
	loader := NewLoader(&recordingApplier{}, resolve)

	started := make(chan struct{})
	var finished atomic.Bool
	w := NewWatcher(dir, loader, WithDebounce(time.Millisecond), WithLoadCallback(func(string, Summary, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before the file appears.
	time.Sleep(50 * time.Millisecond)
	tmp := filepath.Join(dir, "0001.tmp")
	require.NoError(t, os.WriteFile(tmp, src.file(t), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "0001.ibdf")))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the import to start")
	}
	cancel()
	require.NoError(t, <-done)
	require.True(t, finished.Load(), "Run returned while an import was still running")
}
