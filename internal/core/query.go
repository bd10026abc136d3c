package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"isaac/internal/coordinate"
	"isaac/internal/task"
	"isaac/internal/taxonomy"
	"isaac/pkg/domain"
)

// GetLatestVersion returns the version of nid visible to coord. A
// component with nothing visible yields an absent LatestVersion; an
// unknown nid is an error.
func (s *Service) GetLatestVersion(nid int32, coord domain.StampCoordinate) (domain.LatestVersion[*domain.Version], error) {
	unlock, err := s.rlock()
	if err != nil {
		return domain.NoLatest[*domain.Version](), err
	}
	defer unlock()
	c, ok := s.chronos.Get(nid)
	if !ok {
		return domain.NoLatest[*domain.Version](), fmt.Errorf("%w: component %d", domain.ErrNotFound, nid)
	}
	return coordinate.LatestVersion(s.calc, c, coord), nil
}

// GetLatestDescription returns the text of conceptNid's preferred visible
// description: a fully qualified name when there is one, then a regular
// name, then any other description.
func (s *Service) GetLatestDescription(conceptNid int32, coord domain.StampCoordinate) (string, bool, error) {
	unlock, err := s.rlock()
	if err != nil {
		return "", false, err
	}
	defer unlock()
	rank := func(typeNid int32) int {
		switch typeNid {
		case s.meta.FullyQualifiedName:
			return 0
		case s.meta.RegularName:
			return 1
		default:
			return 2
		}
	}
	best, bestRank := "", 3
	for _, c := range s.chronos.SemanticsForOfAssemblage(conceptNid, s.meta.DescriptionAssemblage) {
		v, ok := coordinate.LatestVersion(s.calc, c, coord).Get()
		if !ok {
			continue
		}
		desc, ok := v.Data().(domain.DescriptionData)
		if !ok {
			continue
		}
		if r := rank(desc.DescriptionTypeNid); r < bestRank {
			best, bestRank = desc.Text, r
		}
	}
	return best, bestRank < 3, nil
}

// GetTaxonomySnapshot returns the taxonomy visible to coord under premise.
func (s *Service) GetTaxonomySnapshot(ctx context.Context, coord domain.StampCoordinate, premise domain.PremiseType) (*taxonomy.Snapshot, error) {
	var snap *taxonomy.Snapshot
	err := s.observe(ctx, OpTaxonomySnapshot, func(ctx context.Context) (string, error) {
		if err := s.checkOpen(); err != nil {
			return "", err
		}
		var err error
		snap, err = s.taxonomy.Snapshot(ctx, s.calc, coord, premise)
		return premise.String(), err
	})
	return snap, err
}

// CheckTaxonomy looks for cycles and orphans in the snapshot for coord and
// premise. It runs as a cancelable background task.
func (s *Service) CheckTaxonomy(ctx context.Context, coord domain.StampCoordinate, premise domain.PremiseType) (domain.ClassifierResults, error) {
	var results domain.ClassifierResults
	err := s.observe(ctx, OpCheckTaxonomy, func(ctx context.Context) (string, error) {
		if err := s.checkOpen(); err != nil {
			return "", err
		}
		err := s.tasks.Run(ctx, "check taxonomy "+premise.String(), func(ctx context.Context, t *task.Task) error {
			t.SetMessage("building snapshot")
			snap, err := s.taxonomy.Snapshot(ctx, s.calc, coord, premise)
			if err != nil {
				return err
			}
			t.SetTotal(int64(len(snap.ConceptNids())))
			t.SetMessage("walking concepts")
			results, err = taxonomy.CheckCycles(ctx, snap)
			t.Advance(int64(results.ConceptsChecked))
			return err
		})
		if err == nil && results.HasProblems() {
			s.logger.Warn("taxonomy problems found",
				"premise", premise.String(),
				"cycles", len(results.Cycles),
				"orphans", len(results.Orphans))
		}
		return premise.String(), err
	})
	return results, err
}

// QueryFilter narrows Query. Zero values mean no restriction, except that
// AssemblageNids defaults to the description assemblage.
type QueryFilter struct {
	AssemblageNids      []int32
	DescriptionTypeNids []int32
	Limit               int
}

// QueryHit is one matching description.
type QueryHit struct {
	DescriptionNid int32  `json:"description_nid"`
	ConceptNid     int32  `json:"concept_nid"`
	Text           string `json:"text"`
}

// Query finds descriptions whose latest text under coord contains text,
// ignoring case. Hits are ordered by description nid.
func (s *Service) Query(ctx context.Context, coord domain.StampCoordinate, text string, filter QueryFilter) ([]QueryHit, error) {
	var hits []QueryHit
	err := s.observe(ctx, OpQuery, func(ctx context.Context) (string, error) {
		unlock, err := s.rlock()
		if err != nil {
			return "", err
		}
		defer unlock()
		needle := strings.ToLower(strings.TrimSpace(text))
		assemblages := filter.AssemblageNids
		if len(assemblages) == 0 {
			assemblages = []int32{s.meta.DescriptionAssemblage}
		}
		var nids []int32
		for _, asm := range assemblages {
			nids = append(nids, s.chronos.MembersOf(asm)...)
		}
		slices.Sort(nids)
		nids = slices.Compact(nids)
		for _, nid := range nids {
			if err := ctx.Err(); err != nil {
				return text, err
			}
			c, ok := s.chronos.Get(nid)
			if !ok {
				continue
			}
			v, ok := coordinate.LatestVersion(s.calc, c, coord).Get()
			if !ok {
				continue
			}
			desc, ok := v.Data().(domain.DescriptionData)
			if !ok {
				continue
			}
			if len(filter.DescriptionTypeNids) > 0 && !slices.Contains(filter.DescriptionTypeNids, desc.DescriptionTypeNid) {
				continue
			}
			if !strings.Contains(strings.ToLower(desc.Text), needle) {
				continue
			}
			hits = append(hits, QueryHit{DescriptionNid: nid, ConceptNid: c.ReferencedComponentNid(), Text: desc.Text})
			if filter.Limit > 0 && len(hits) == filter.Limit {
				break
			}
		}
		return text, nil
	})
	return hits, err
}
