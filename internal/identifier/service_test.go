package identifier

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"isaac/pkg/domain"
)

type recordingLogger struct {
	domain.NoopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(append([]any{msg}, args...)...))
}

func TestAssignNidRequiresUUIDs(t *testing.T) {
	s := New()
	if _, err := s.AssignNid(); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("no nid should be allocated, count %d", s.Count())
	}
}

func TestAssignNidIsStableAndNegative(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	nid, err := s.AssignNid(a)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if nid != FirstNid || nid >= 0 {
		t.Fatalf("expected first nid %d, got %d", FirstNid, nid)
	}
	again, _ := s.AssignNid(a, b)
	if again != nid {
		t.Fatalf("expected existing nid, got %d", again)
	}
	uuids, err := s.GetUuidsForNid(nid)
	if err != nil || len(uuids) != 2 || uuids[0] != a {
		t.Fatalf("expected primordial first and additional uuid bound, got %v %v", uuids, err)
	}
	if got, _ := s.GetNidForUuids(uuid.New(), b); got != nid {
		t.Fatalf("lookup by additional uuid returned %d", got)
	}
	if _, err := s.GetNidForUuids(uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetUuidsForNid(12345); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unassigned nid, got %v", err)
	}
}

func TestAssignNidCrossLinkReturnsExistingNid(t *testing.T) {
	logger := &recordingLogger{}
	s := New(WithLogger(logger))
	a, b := uuid.New(), uuid.New()
	first, _ := s.AssignNid(a)
	second, _ := s.AssignNid(b)
	before := s.Count()
	for i := 0; i < 3; i++ {
		got, err := s.AssignNid(b, a)
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if got != first {
			t.Fatalf("expected oldest nid %d, got %d (other %d)", first, got, second)
		}
	}
	if s.Count() != before {
		t.Fatalf("cross-linkage must not allocate a new nid")
	}
	if len(logger.warns) == 0 {
		t.Fatalf("expected cross-linkage warning")
	}
}

func TestSetupNid(t *testing.T) {
	s := New()
	asm, _ := s.AssignNid(uuid.New())
	nid, _ := s.AssignNid(uuid.New())
	if err := s.SetupNid(nid, asm, domain.ObjectSemantic, domain.VersionUnknown); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected unknown version type rejection, got %v", err)
	}
	if err := s.SetupNid(nid, asm, domain.ObjectSemantic, domain.VersionDescription); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.SetupNid(nid, asm, domain.ObjectSemantic, domain.VersionDescription); err != nil {
		t.Fatalf("repeat setup should be accepted: %v", err)
	}
	other, _ := s.AssignNid(uuid.New())
	if err := s.SetupNid(other, asm, domain.ObjectSemantic, domain.VersionString); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected conflicting assemblage type, got %v", err)
	}
	if s.ObjectTypeFor(nid) != domain.ObjectSemantic || s.VersionTypeFor(nid) != domain.VersionDescription {
		t.Fatalf("unexpected types for nid")
	}
	if err := s.SetupNid(999, asm, domain.ObjectSemantic, domain.VersionDescription); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown nid, got %v", err)
	}
}

func TestConcurrentAssignment(t *testing.T) {
	s := New()
	shared := make([]uuid.UUID, 50)
	for i := range shared {
		shared[i] = uuid.New()
	}
	results := make([][]int32, 8)
	var wg sync.WaitGroup
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]int32, len(shared))
			for i, u := range shared {
				nid, err := s.AssignNid(u)
				if err != nil {
					t.Errorf("assign: %v", err)
					return
				}
				out[i] = nid
			}
			results[w] = out
		}(w)
	}
	wg.Wait()
	for w := 1; w < len(results); w++ {
		for i := range shared {
			if results[w][i] != results[0][i] {
				t.Fatalf("worker %d saw nid %d for uuid %d, worker 0 saw %d", w, results[w][i], i, results[0][i])
			}
		}
	}
	if s.Count() != len(shared) {
		t.Fatalf("expected %d nids, got %d", len(shared), s.Count())
	}
}

func TestExportImport(t *testing.T) {
	s := New()
	asm, _ := s.AssignNid(uuid.New())
	nid, _ := s.AssignNid(uuid.New(), uuid.New())
	if err := s.SetupNid(nid, asm, domain.ObjectConcept, domain.VersionConcept); err != nil {
		t.Fatalf("setup: %v", err)
	}
	st := s.Export()
	restored := New()
	if err := restored.Import(st); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.MaxNid() != s.MaxNid() {
		t.Fatalf("max nid mismatch")
	}
	uuids, _ := restored.GetUuidsForNid(nid)
	if len(uuids) != 2 {
		t.Fatalf("expected two uuids")
	}
	if restored.VersionTypeFor(nid) != domain.VersionConcept {
		t.Fatalf("assemblage typing lost")
	}
	next, _ := restored.AssignNid(uuid.New())
	if next != nid+1 {
		t.Fatalf("expected allocation to continue at %d, got %d", nid+1, next)
	}
	if err := restored.Import(st); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected refusal to import twice, got %v", err)
	}
}

func TestImportRejectsCorruptState(t *testing.T) {
	shared := uuid.New()
	st := domain.IdentifierState{
		NextNid: FirstNid + 2,
		Nids: []domain.NidState{
			{Nid: FirstNid, UUIDs: []uuid.UUID{shared}},
			{Nid: FirstNid + 1, UUIDs: []uuid.UUID{shared}},
		},
	}
	if err := New().Import(st); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected corrupt state, got %v", err)
	}
	st = domain.IdentifierState{NextNid: FirstNid + 1, Nids: []domain.NidState{{Nid: FirstNid + 5, UUIDs: []uuid.UUID{uuid.New()}}}}
	if err := New().Import(st); !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected out of range rejection, got %v", err)
	}
}
