package logic

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"isaac/internal/binary"
	"isaac/pkg/domain"
)

const (
	isa         int32 = -100
	findingSite int32 = -101
	heart       int32 = -200
	disorder    int32 = -201
	structure   int32 = -202
)

// cardiacDisorder builds the same definition with siblings in either order.
func cardiacDisorder(t *testing.T, reversed bool) *Expression {
	t.Helper()
	b := NewBuilder(heart)
	parent := b.ConceptRef(disorder)
	role := b.SomeRole(findingSite, b.ConceptRef(structure))
	conj := b.And()
	children := []int{parent, role}
	if reversed {
		children = []int{role, parent}
	}
	require.NoError(t, b.AddChildren(conj, children...))
	b.Root(b.Necessary(conj))
	e, err := b.Build()
	require.NoError(t, err)
	return e
}

func TestNodeIdentityIgnoresInsertionOrder(t *testing.T) {
	a := cardiacDisorder(t, false)
	b := cardiacDisorder(t, true)
	require.True(t, Equivalent(a, b))
	require.Equal(t, a.RootUUID(), b.RootUUID())

	ca, cb := a.Canonical(), b.Canonical()
	require.Equal(t, ca.Len(), cb.Len())
	for i := 0; i < ca.Len(); i++ {
		require.Equal(t, ca.Node(i).Semantic, cb.Node(i).Semantic)
		require.Equal(t, ca.NodeUUID(i), cb.NodeUUID(i))
	}

	other := NewBuilder(heart)
	other.Root(other.Necessary(other.ConceptRef(structure)))
	e, err := other.Build()
	require.NoError(t, err)
	require.False(t, Equivalent(a, e))
}

func TestResolvedIdentitiesAreStable(t *testing.T) {
	ids := map[int32]uuid.UUID{}
	resolve := func(nid int32) (uuid.UUID, error) {
		if _, ok := ids[nid]; !ok {
			ids[nid] = uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(nid)})
		}
		return ids[nid], nil
	}
	a := cardiacDisorder(t, false)
	b := cardiacDisorder(t, true)
	require.NoError(t, a.InitNodeUUIDs(resolve))
	require.NoError(t, b.InitNodeUUIDs(resolve))
	require.Equal(t, a.RootUUID(), b.RootUUID())

	failing := func(int32) (uuid.UUID, error) { return uuid.Nil, domain.ErrNotFound }
	require.ErrorIs(t, a.InitNodeUUIDs(failing), domain.ErrNotFound)
}

func TestTemplateRejectsChildren(t *testing.T) {
	b := NewBuilder(heart)
	tmpl := b.Template(-300, -301)
	lit := b.IntegerLiteral(4)
	err := b.AddChildren(tmpl, lit)
	require.True(t, errors.Is(err, domain.ErrUnsupported))

	concept := b.ConceptRef(disorder)
	require.ErrorIs(t, b.AddChildren(concept, lit), domain.ErrUnsupported)
}

func TestBuilderValidation(t *testing.T) {
	b := NewBuilder(heart)
	b.ConceptRef(disorder)
	_, err := b.Build()
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "missing root")

	b = NewBuilder(heart)
	dangling := b.ConceptRef(disorder)
	b.Root()
	_ = dangling
	_, err = b.Build()
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "unattached node")

	b = NewBuilder(heart)
	shared := b.ConceptRef(disorder)
	b.Root(b.Necessary(shared), b.Sufficient(shared))
	_, err = b.Build()
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "node with two parents")

	b = NewBuilder(heart)
	b.Root(b.Necessary(b.Feature(findingSite, OperatorEquals, b.ConceptRef(structure))))
	_, err = b.Build()
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "feature over a concept")
}

func TestRelationshipKeyTotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := make([]RelationshipKey, 150)
	for i := range keys {
		nids := make([]int32, rng.Intn(4))
		for j := range nids {
			nids[j] = -int32(rng.Intn(6) + 1)
		}
		slices.Sort(nids)
		keys[i] = RelationshipKey{Necessary: rng.Intn(2) == 0, ConceptNids: slices.Compact(nids)}
	}
	for _, a := range keys {
		require.Zero(t, a.Compare(a))
		for _, b := range keys {
			ab, ba := a.Compare(b), b.Compare(a)
			require.Equal(t, sign(ab), -sign(ba), "antisymmetry %v %v", a, b)
			same := a.Necessary == b.Necessary && slices.Equal(a.ConceptNids, b.ConceptNids)
			require.Equal(t, same, ab == 0, "keys compare equal only when identical %v %v", a, b)
			for _, c := range keys[:20] {
				if ab <= 0 && b.Compare(c) <= 0 {
					require.LessOrEqual(t, a.Compare(c), 0, "transitivity %v %v %v", a, b, c)
				}
			}
		}
	}
	// Same length and same necessary flag, differing only in one nid.
	require.NotZero(t, RelationshipKey{Necessary: true, ConceptNids: []int32{-3, -1}}.Compare(
		RelationshipKey{Necessary: true, ConceptNids: []int32{-3, -2}}))
	require.NotZero(t, RelationshipKey{ConceptNids: []int32{-1}}.Compare(RelationshipKey{Necessary: true, ConceptNids: []int32{-1}}))
	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, RelationshipKey.Compare)
	require.True(t, sorted[0].Necessary || !slices.ContainsFunc(keys, func(k RelationshipKey) bool { return k.Necessary }))
	for i := 1; i < len(sorted); i++ {
		require.LessOrEqual(t, sorted[i-1].Compare(sorted[i]), 0)
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func TestKeysAndMatchAxioms(t *testing.T) {
	a := cardiacDisorder(t, false)
	keys := Keys(a)
	require.Equal(t, []RelationshipKey{{Necessary: true, ConceptNids: []int32{structure, disorder, findingSite}}}, keys)

	b := NewBuilder(heart)
	b.Root(
		b.Sufficient(b.ConceptRef(structure)),
		b.Necessary(b.And(b.ConceptRef(disorder), b.SomeRole(findingSite, b.ConceptRef(structure)))),
	)
	e, err := b.Build()
	require.NoError(t, err)
	other := Keys(e)
	require.True(t, other[0].Necessary)

	m := MatchAxioms(keys, other)
	require.Len(t, m.Matched, 1)
	require.Empty(t, m.OnlyA)
	require.Len(t, m.OnlyB, 1)
	require.False(t, m.OnlyB[0].Necessary)
}

func TestParentsAndRoles(t *testing.T) {
	e := cardiacDisorder(t, true)
	edges := ParentsAndRoles(e, isa)
	require.Equal(t, []Edge{
		{TypeNid: findingSite, DestinationNid: structure},
		{TypeNid: isa, DestinationNid: disorder},
	}, edges)
	require.Equal(t, []int32{disorder}, Parents(e, isa))
}

func TestCodecRoundTrip(t *testing.T) {
	b := NewBuilder(heart)
	b.Root(b.Necessary(b.And(
		b.ConceptRef(disorder),
		b.Feature(findingSite, OperatorGreaterThan, b.FloatLiteral(2.5)),
		b.Feature(-102, OperatorEquals, b.Substitution(SemanticSubstitutionString, "site")),
		b.Feature(-103, OperatorLessThan, b.InstantLiteral(1_700_000_000_000)),
		b.Feature(-104, OperatorEquals, b.StringLiteral("left")),
		b.Feature(-105, OperatorEquals, b.BooleanLiteral(true)),
		b.AllRole(findingSite, b.ConceptRef(structure)),
	)), b.Sufficient(b.Or(b.Template(-300, -301), b.ConceptRef(structure))))
	e, err := b.Build()
	require.NoError(t, err)

	data, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.True(t, Equivalent(e, got))
	require.Equal(t, e.Len(), got.Len())

	data[0] = 9
	_, err = Decode(data)
	require.ErrorIs(t, err, domain.ErrUnknownFormatVersion)

	_, err = Decode(data[:3])
	require.Error(t, err)
}

func TestPortableCodecTranslatesNids(t *testing.T) {
	e := cardiacDisorder(t, false)
	toUUID := func(nid int32) (uuid.UUID, error) {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(-nid)}), nil
	}
	toRemote := map[uuid.UUID]int32{}
	for _, nid := range []int32{heart, disorder, structure, findingSite} {
		u, _ := toUUID(nid)
		toRemote[u] = nid - 1000
	}
	w := binary.NewPortableWriter(toUUID)
	EncodeTo(w, e)
	require.NoError(t, w.Err())

	got, err := DecodeFrom(binary.NewPortableReader(w.Bytes(), func(u uuid.UUID) (int32, error) {
		return toRemote[u], nil
	}))
	require.NoError(t, err)
	require.Equal(t, heart-1000, got.ConceptNid())
	require.Equal(t, []int32{disorder - 1000}, Parents(got, isa))
}
