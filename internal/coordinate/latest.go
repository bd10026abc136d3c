package coordinate

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"isaac/pkg/domain"
)

// Stamped is anything tagged with a stamp sequence.
type Stamped interface {
	StampSequence() int32
}

// Latest selects the latest versions visible to coord. Versions are ranked
// regardless of status; the allowed statuses then filter the winners, so an
// inactive latest version hides older active ones. Ties that survive path,
// time and module preference are reported as contradictions, with the
// lowest stamp sequence as the value.
func Latest[V Stamped](calc *Calculator, versions []V, coord domain.StampCoordinate) domain.LatestVersion[V] {
	if len(versions) == 0 {
		return domain.NoLatest[V]()
	}
	seqs := make([]int32, len(versions))
	for i, v := range versions {
		seqs[i] = v.StampSequence()
	}
	sel := calc.selectLatest(seqs, coord)
	allowed := coord.AllowedStatuses()
	var kept []V
	for i, w := range sel.winners {
		if allowed.Contains(sel.ranks[i].stamp.Status) {
			kept = append(kept, versions[w])
		}
	}
	switch len(kept) {
	case 0:
		return domain.NoLatest[V]()
	case 1:
		return domain.LatestOf(kept[0])
	default:
		return domain.LatestWithContradictions(kept[0], kept[1:])
	}
}

// LatestVersion selects the latest version of a chronology.
func LatestVersion(calc *Calculator, chronology *domain.Chronology, coord domain.StampCoordinate) domain.LatestVersion[*domain.Version] {
	if chronology == nil {
		return domain.NoLatest[*domain.Version]()
	}
	return Latest(calc, chronology.Versions(), coord)
}

// Fingerprint hashes every field of a coordinate; equal coordinates share a
// fingerprint.
func Fingerprint(coord domain.StampCoordinate) uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	pos := coord.Position()
	put(uint64(uint32(pos.PathNid)))
	put(uint64(pos.Time))
	put(uint64(coord.AllowedStatuses()))
	put(uint64(coord.Precedence()))
	modules := coord.ModuleNids()
	put(uint64(len(modules)))
	for _, m := range modules {
		put(uint64(uint32(m)))
	}
	priority := coord.ModulePriority()
	put(uint64(len(priority)))
	for _, m := range priority {
		put(uint64(uint32(m)))
	}
	return d.Sum64()
}
