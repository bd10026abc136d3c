package logic

import (
	"cmp"
	"slices"
)

// Edge is a typed link from the defined concept to a destination concept.
type Edge struct {
	TypeNid        int32
	DestinationNid int32
}

// ParentsAndRoles extracts the taxonomy edges of a definition. Concept
// references directly inside a set, or inside the set's conjunction, become
// is-a edges typed isaNid; existential roles over a concept become edges
// typed by the role.
func ParentsAndRoles(e *Expression, isaNid int32) []Edge {
	if e == nil || e.root < 0 {
		return nil
	}
	var edges []Edge
	consider := func(i int) {
		n := e.nodes[i]
		switch n.Semantic {
		case SemanticConcept:
			edges = append(edges, Edge{TypeNid: isaNid, DestinationNid: n.ConceptNid})
		case SemanticRoleSome:
			target := e.nodes[n.children[0]]
			if target.Semantic == SemanticConcept {
				edges = append(edges, Edge{TypeNid: n.ConceptNid, DestinationNid: target.ConceptNid})
			}
		}
	}
	for _, setIdx := range e.nodes[e.root].children {
		set := e.nodes[setIdx]
		if set.Semantic != SemanticNecessarySet && set.Semantic != SemanticSufficientSet {
			continue
		}
		for _, c := range set.children {
			if e.nodes[c].Semantic == SemanticAnd {
				for _, gc := range e.nodes[c].children {
					consider(gc)
				}
				continue
			}
			consider(c)
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(a.TypeNid, b.TypeNid), cmp.Compare(a.DestinationNid, b.DestinationNid))
	})
	return slices.Compact(edges)
}

// Parents returns the destinations of is-a edges.
func Parents(e *Expression, isaNid int32) []int32 {
	var out []int32
	for _, edge := range ParentsAndRoles(e, isaNid) {
		if edge.TypeNid == isaNid {
			out = append(out, edge.DestinationNid)
		}
	}
	return out
}
