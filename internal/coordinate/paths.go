// Package coordinate decides which versions a STAMP coordinate can see.
package coordinate

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"isaac/pkg/domain"
)

// PathRegistry records the origin positions each path branches from.
type PathRegistry struct {
	mu         sync.RWMutex
	origins    map[int32][]domain.StampPosition
	generation atomic.Uint64
}

// NewPathRegistry returns an empty registry.
func NewPathRegistry() *PathRegistry {
	return &PathRegistry{origins: map[int32][]domain.StampPosition{}}
}

// AddPath registers pathNid with its origins. Registering an existing path
// replaces its origins. A path may not name itself as an origin.
func (r *PathRegistry) AddPath(pathNid int32, origins ...domain.StampPosition) error {
	for _, o := range origins {
		if o.PathNid == pathNid {
			return fmt.Errorf("%w: path %d cannot originate from itself", domain.ErrInvalidArgument, pathNid)
		}
	}
	r.mu.Lock()
	r.origins[pathNid] = slices.Clone(origins)
	r.mu.Unlock()
	r.generation.Add(1)
	return nil
}

// HasPath reports whether pathNid is registered.
func (r *PathRegistry) HasPath(pathNid int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.origins[pathNid]
	return ok
}

// Origins returns the origin positions of pathNid.
func (r *PathRegistry) Origins(pathNid int32) []domain.StampPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.origins[pathNid])
}

// PathNids returns every registered path in ascending order.
func (r *PathRegistry) PathNids() []int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int32, 0, len(r.origins))
	for nid := range r.origins {
		out = append(out, nid)
	}
	slices.Sort(out)
	return out
}

// Generation changes whenever the path graph changes.
func (r *PathRegistry) Generation() uint64 { return r.generation.Load() }

// Export snapshots the registry in path order.
func (r *PathRegistry) Export() []domain.PathState {
	out := make([]domain.PathState, 0)
	for _, nid := range r.PathNids() {
		out = append(out, domain.PathState{PathNid: nid, Origins: r.Origins(nid)})
	}
	return out
}

// Import adds every path in the snapshot.
func (r *PathRegistry) Import(paths []domain.PathState) error {
	for _, p := range paths {
		if err := r.AddPath(p.PathNid, p.Origins...); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
		}
	}
	return nil
}

// segment is the visible part of one path: content up to maxTime, reached
// after depth origin hops from the coordinate's own path.
type segment struct {
	maxTime int64
	depth   int
}

// route maps path nid onto its visible segment.
type route map[int32]segment

func (r *PathRegistry) route(position domain.StampPosition) route {
	out := route{position.PathNid: {maxTime: position.Time, depth: 0}}
	type item struct {
		path int32
		seg  segment
	}
	queue := []item{{path: position.PathNid, seg: out[position.PathNid]}}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, o := range r.origins[cur.path] {
			next := segment{maxTime: min(o.Time, cur.seg.maxTime), depth: cur.seg.depth + 1}
			prev, seen := out[o.PathNid]
			if seen && prev.maxTime >= next.maxTime && prev.depth <= next.depth {
				continue
			}
			if seen {
				next = segment{maxTime: max(prev.maxTime, next.maxTime), depth: min(prev.depth, next.depth)}
			}
			out[o.PathNid] = next
			queue = append(queue, item{path: o.PathNid, seg: next})
		}
	}
	return out
}
