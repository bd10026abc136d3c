package logic

import (
	"cmp"
	"slices"
)

// RelationshipKey summarizes one necessary or sufficient set by the concepts
// it references. Keys are used to line up axioms between two versions of a
// definition.
type RelationshipKey struct {
	Necessary   bool
	ConceptNids []int32
}

// Compare orders necessary sets before sufficient sets, then by the number
// of referenced concepts, then lexicographically by nid.
func (k RelationshipKey) Compare(o RelationshipKey) int {
	if k.Necessary != o.Necessary {
		if k.Necessary {
			return -1
		}
		return 1
	}
	return cmp.Or(
		cmp.Compare(len(k.ConceptNids), len(o.ConceptNids)),
		slices.Compare(k.ConceptNids, o.ConceptNids),
	)
}

// Keys returns the sorted relationship keys of every set under the root.
func Keys(e *Expression) []RelationshipKey {
	if e == nil || e.root < 0 {
		return nil
	}
	var keys []RelationshipKey
	for _, setIdx := range e.nodes[e.root].children {
		set := e.nodes[setIdx]
		if set.Semantic != SemanticNecessarySet && set.Semantic != SemanticSufficientSet {
			continue
		}
		var nids []int32
		var collect func(int)
		collect = func(i int) {
			n := e.nodes[i]
			switch n.Semantic {
			case SemanticConcept, SemanticRoleAll, SemanticRoleSome, SemanticFeature:
				nids = append(nids, n.ConceptNid)
			}
			for _, c := range n.children {
				collect(c)
			}
		}
		collect(setIdx)
		slices.Sort(nids)
		keys = append(keys, RelationshipKey{
			Necessary:   set.Semantic == SemanticNecessarySet,
			ConceptNids: slices.Compact(nids),
		})
	}
	slices.SortStableFunc(keys, RelationshipKey.Compare)
	return keys
}

// AxiomMatch is the result of aligning the keys of two expressions.
type AxiomMatch struct {
	Matched []RelationshipKey
	OnlyA   []RelationshipKey
	OnlyB   []RelationshipKey
}

// MatchAxioms aligns two sorted key lists. Equal keys are paired one to one.
func MatchAxioms(a, b []RelationshipKey) AxiomMatch {
	var m AxiomMatch
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].Compare(b[j]); {
		case c == 0:
			m.Matched = append(m.Matched, a[i])
			i++
			j++
		case c < 0:
			m.OnlyA = append(m.OnlyA, a[i])
			i++
		default:
			m.OnlyB = append(m.OnlyB, b[j])
			j++
		}
	}
	m.OnlyA = append(m.OnlyA, a[i:]...)
	m.OnlyB = append(m.OnlyB, b[j:]...)
	return m
}
