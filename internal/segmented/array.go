// Package segmented provides a grow-only array of atomically replaced slots.
// Reads and writes of existing slots never lock; only allocating a new
// segment takes the mutex.
package segmented

import (
	"sync"
	"sync/atomic"
)

// DefaultSegmentSize is the number of slots per segment.
const DefaultSegmentSize = 1 << 12

type segment[T any] struct {
	slots []atomic.Pointer[T]
}

// Array maps dense non-negative indexes onto values of T.
type Array[T any] struct {
	segmentSize int
	mu          sync.Mutex
	segments    atomic.Pointer[[]*segment[T]]
}

// New returns an empty array using segments of segmentSize slots.
func New[T any](segmentSize int) *Array[T] {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	a := &Array[T]{segmentSize: segmentSize}
	empty := make([]*segment[T], 0)
	a.segments.Store(&empty)
	return a
}

func (a *Array[T]) slot(index int, grow bool) *atomic.Pointer[T] {
	if index < 0 {
		return nil
	}
	seg, off := index/a.segmentSize, index%a.segmentSize
	segs := *a.segments.Load()
	if seg >= len(segs) {
		if !grow {
			return nil
		}
		segs = a.grow(seg)
	}
	return &segs[seg].slots[off]
}

func (a *Array[T]) grow(seg int) []*segment[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	segs := *a.segments.Load()
	if seg < len(segs) {
		return segs
	}
	next := make([]*segment[T], len(segs), seg+1)
	copy(next, segs)
	for len(next) <= seg {
		next = append(next, &segment[T]{slots: make([]atomic.Pointer[T], a.segmentSize)})
	}
	a.segments.Store(&next)
	return next
}

// Load returns the value at index.
func (a *Array[T]) Load(index int) (*T, bool) {
	s := a.slot(index, false)
	if s == nil {
		return nil, false
	}
	v := s.Load()
	return v, v != nil
}

// Store replaces the value at index, growing the array when needed.
func (a *Array[T]) Store(index int, value *T) {
	if s := a.slot(index, true); s != nil {
		s.Store(value)
	}
}

// CompareAndSwap replaces old with value at index if the slot still holds old.
func (a *Array[T]) CompareAndSwap(index int, old, value *T) bool {
	s := a.slot(index, true)
	if s == nil {
		return false
	}
	return s.CompareAndSwap(old, value)
}

// Update applies fn to the current value until the swap succeeds and
// returns the stored value.
func (a *Array[T]) Update(index int, fn func(current *T) *T) *T {
	s := a.slot(index, true)
	if s == nil {
		return nil
	}
	for {
		cur := s.Load()
		next := fn(cur)
		if s.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Capacity returns the number of allocated slots.
func (a *Array[T]) Capacity() int {
	return len(*a.segments.Load()) * a.segmentSize
}

// Range calls fn for every occupied slot in index order until fn returns false.
func (a *Array[T]) Range(fn func(index int, value *T) bool) {
	segs := *a.segments.Load()
	for si, seg := range segs {
		for off := range seg.slots {
			if v := seg.slots[off].Load(); v != nil {
				if !fn(si*a.segmentSize+off, v) {
					return
				}
			}
		}
	}
}
