package coordinate

import (
	"cmp"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"isaac/pkg/domain"
)

// StampSource is the read side of the stamp store the calculator needs.
type StampSource interface {
	Stamp(seq int32) (domain.Stamp, bool)
	AliasesOf(seq int32) []int32
	ResolveAlias(seq int32) (int32, error)
}

type routeKey struct {
	position   domain.StampPosition
	generation uint64
}

const routeCacheSize = 512

// Calculator evaluates stamps against coordinates. It holds no state beyond
// a cache of computed path routes and is safe for concurrent use.
type Calculator struct {
	stamps StampSource
	paths  *PathRegistry
	routes *lru.Cache[routeKey, route]
}

// NewCalculator returns a calculator over the given stamps and paths.
func NewCalculator(stamps StampSource, paths *PathRegistry) *Calculator {
	cache, err := lru.New[routeKey, route](routeCacheSize)
	if err != nil {
		panic(err)
	}
	return &Calculator{stamps: stamps, paths: paths, routes: cache}
}

// Paths returns the registry routes are computed from.
func (c *Calculator) Paths() *PathRegistry { return c.paths }

func (c *Calculator) routeFor(position domain.StampPosition) route {
	key := routeKey{position: position, generation: c.paths.Generation()}
	if r, ok := c.routes.Get(key); ok {
		return r
	}
	r := c.paths.route(position)
	c.routes.Add(key, r)
	return r
}

// rank is how good a visible stamp is under a coordinate.
type rank struct {
	seq        int32
	stamp      domain.Stamp
	depth      int
	moduleRank int
}

func (c *Calculator) visible(r route, st domain.Stamp, coord domain.StampCoordinate) (segment, bool) {
	if st.IsCanceled() {
		return segment{}, false
	}
	seg, ok := r[st.PathNid]
	if !ok {
		return segment{}, false
	}
	if st.IsUncommitted() {
		if seg.maxTime != domain.LatestTime {
			return segment{}, false
		}
	} else if st.Time > seg.maxTime {
		return segment{}, false
	}
	return seg, coord.AllowsModule(st.ModuleNid)
}

// bestRank returns the best visible stamp among seq and its aliases.
func (c *Calculator) bestRank(r route, seq int32, coord domain.StampCoordinate) (rank, bool) {
	var best rank
	found := false
	for _, s := range append([]int32{seq}, c.stamps.AliasesOf(seq)...) {
		st, ok := c.stamps.Stamp(s)
		if !ok {
			continue
		}
		seg, ok := c.visible(r, st, coord)
		if !ok {
			continue
		}
		cand := rank{seq: s, stamp: st, depth: seg.depth, moduleRank: coord.ModuleRank(st.ModuleNid)}
		if !found || compareRank(cand, best, coord.Precedence()) > 0 {
			best, found = cand, true
		}
	}
	return best, found
}

// compareRank orders ranks; positive means a is preferred over b. Stamp
// sequence is not part of the comparison, so distinct stamps can tie.
func compareRank(a, b rank, precedence domain.Precedence) int {
	byDepth := cmp.Compare(b.depth, a.depth)
	byTime := cmp.Compare(a.stamp.Time, b.stamp.Time)
	byModule := cmp.Compare(b.moduleRank, a.moduleRank)
	if precedence == domain.PrecedenceTime {
		return cmp.Or(byTime, byDepth, byModule)
	}
	return cmp.Or(byDepth, byTime, byModule)
}

// OnRoute reports whether seq, directly or through one of its aliases, is
// visible at the coordinate's position. Status is not considered.
func (c *Calculator) OnRoute(seq int32, coord domain.StampCoordinate) bool {
	_, ok := c.bestRank(c.routeFor(coord.Position()), seq, coord)
	return ok
}

// selection is the outcome of ranking a set of stamps.
type selection struct {
	// indexes into the ranked input, best first; ties in ascending stamp order
	winners []int
	ranks   []rank
}

// selectLatest ranks seqs and returns the indexes of the best ones. Ties on
// path depth, time and module preference are all returned.
func (c *Calculator) selectLatest(seqs []int32, coord domain.StampCoordinate) selection {
	r := c.routeFor(coord.Position())
	var sel selection
	var best rank
	for i, seq := range seqs {
		rk, ok := c.bestRank(r, seq, coord)
		if !ok {
			continue
		}
		switch {
		case len(sel.winners) == 0:
			best = rk
			sel.winners, sel.ranks = []int{i}, []rank{rk}
		default:
			switch d := compareRank(rk, best, coord.Precedence()); {
			case d > 0:
				best = rk
				sel.winners, sel.ranks = []int{i}, []rank{rk}
			case d == 0:
				sel.winners = append(sel.winners, i)
				sel.ranks = append(sel.ranks, rk)
			}
		}
	}
	order := make([]int, len(sel.winners))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(seqs[sel.winners[a]], seqs[sel.winners[b]])
	})
	sorted := selection{winners: make([]int, len(order)), ranks: make([]rank, len(order))}
	for i, o := range order {
		sorted.winners[i] = sel.winners[o]
		sorted.ranks[i] = sel.ranks[o]
	}
	return sorted
}

// LatestStamps returns the latest visible stamps among seqs, ascending. More
// than one result means the stamps contradict each other. Status is not
// considered.
func (c *Calculator) LatestStamps(seqs []int32, coord domain.StampCoordinate) []int32 {
	sel := c.selectLatest(seqs, coord)
	out := make([]int32, len(sel.winners))
	for i, w := range sel.winners {
		out[i] = seqs[w]
	}
	return out
}

// IsLatestActive reports whether the latest of seqs carries an allowed
// status on the stamp it is visible through.
func (c *Calculator) IsLatestActive(seqs []int32, coord domain.StampCoordinate) bool {
	sel := c.selectLatest(seqs, coord)
	for _, rk := range sel.ranks {
		if coord.AllowedStatuses().Contains(rk.stamp.Status) {
			return true
		}
	}
	return false
}

// RelativePosition orders stamp a against stamp b as seen from the coordinate.
func (c *Calculator) RelativePosition(a, b int32, coord domain.StampCoordinate) domain.RelativePosition {
	r := c.routeFor(coord.Position())
	ra, okA := c.bestRank(r, a, coord)
	rb, okB := c.bestRank(r, b, coord)
	if !okA || !okB {
		return domain.PositionUnreachable
	}
	ta, errA := c.stamps.ResolveAlias(a)
	tb, errB := c.stamps.ResolveAlias(b)
	if errA == nil && errB == nil && ta == tb {
		return domain.PositionEqual
	}
	sa, sb := ra.stamp, rb.stamp
	if sa.PathNid == sb.PathNid {
		switch cmp.Compare(sa.Time, sb.Time) {
		case -1:
			return domain.PositionBefore
		case 1:
			return domain.PositionAfter
		}
		if sa == sb {
			return domain.PositionEqual
		}
		return domain.PositionContradiction
	}
	if c.precedes(sa, sb) {
		return domain.PositionBefore
	}
	if c.precedes(sb, sa) {
		return domain.PositionAfter
	}
	return domain.PositionContradiction
}

// precedes reports whether a lies on an origin of b's path no later than the
// point b's path branched.
func (c *Calculator) precedes(a, b domain.Stamp) bool {
	seg, ok := c.routeFor(domain.StampPosition{PathNid: b.PathNid, Time: b.Time})[a.PathNid]
	return ok && seg.depth > 0 && !a.IsUncommitted() && a.Time <= seg.maxTime
}
