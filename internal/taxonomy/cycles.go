package taxonomy

import (
	"context"
	"slices"

	"isaac/pkg/domain"
)

const (
	white = iota
	grey
	black
)

// CheckCycles walks every concept up its is-a parents. Each back edge is
// reported as a cycle whose path starts and ends at the same concept.
// Concepts without parents, other than the root, are reported as orphans.
// The walk checks ctx at every concept and stops early once it is canceled.
func CheckCycles(ctx context.Context, snap *Snapshot) (domain.ClassifierResults, error) {
	results := domain.ClassifierResults{ConceptsChecked: len(snap.concepts)}
	color := make(map[int32]int, len(snap.concepts))
	var stack []int32

	var visit func(nid int32) error
	visit = func(nid int32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		color[nid] = grey
		stack = append(stack, nid)
		for _, parent := range snap.ParentConceptNids(nid) {
			switch color[parent] {
			case white:
				if err := visit(parent); err != nil {
					return err
				}
			case grey:
				start := slices.Index(stack, parent)
				path := append(slices.Clone(stack[start:]), parent)
				results.Cycles = append(results.Cycles, domain.CycleReport{ConceptNid: parent, Path: path})
			}
		}
		stack = stack[:len(stack)-1]
		color[nid] = black
		return nil
	}

	for _, nid := range snap.concepts {
		if nid != snap.rootNid && len(snap.ParentConceptNids(nid)) == 0 {
			results.Orphans = append(results.Orphans, nid)
		}
		if color[nid] == white {
			if err := visit(nid); err != nil {
				return results, err
			}
		} else if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}
