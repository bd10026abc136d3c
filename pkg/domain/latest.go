package domain

// LatestVersion is the result of latest-version selection: empty, a single
// value, or a value plus contradicting versions that tied with it.
type LatestVersion[V any] struct {
	value          V
	present        bool
	contradictions []V
}

// LatestOf wraps a single selected version.
func LatestOf[V any](value V) LatestVersion[V] {
	return LatestVersion[V]{value: value, present: true}
}

// LatestWithContradictions wraps a selected version and its tied peers.
func LatestWithContradictions[V any](value V, contradictions []V) LatestVersion[V] {
	return LatestVersion[V]{value: value, present: true, contradictions: append([]V(nil), contradictions...)}
}

// NoLatest is the empty result.
func NoLatest[V any]() LatestVersion[V] { return LatestVersion[V]{} }

// IsPresent reports whether any version is visible.
func (l LatestVersion[V]) IsPresent() bool { return l.present }

// Get returns the selected version.
func (l LatestVersion[V]) Get() (V, bool) { return l.value, l.present }

// Value returns the selected version or the zero value.
func (l LatestVersion[V]) Value() V { return l.value }

// IsContradicted reports whether other versions tied with the selected one.
func (l LatestVersion[V]) IsContradicted() bool { return len(l.contradictions) > 0 }

// Contradictions returns the versions that tied with the selected one.
func (l LatestVersion[V]) Contradictions() []V { return append([]V(nil), l.contradictions...) }

// Versions returns every contributing version, selected one first.
func (l LatestVersion[V]) Versions() []V {
	if !l.present {
		return nil
	}
	out := make([]V, 0, 1+len(l.contradictions))
	out = append(out, l.value)
	return append(out, l.contradictions...)
}
