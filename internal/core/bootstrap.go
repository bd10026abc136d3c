package core

import (
	"fmt"

	"isaac/internal/logic"
	"isaac/pkg/domain"
)

// bootstrap assigns the well-known concepts their fixed nids and creates
// their committed chronologies: a concept, a fully qualified name and, for
// every concept but the root, a stated graph placing it under the root.
func (s *Service) bootstrap() error {
	concepts := domain.MetadataConcepts()
	for _, mc := range concepts {
		if _, err := s.ids.AssignNid(mc.UUID); err != nil {
			return fmt.Errorf("assign metadata nid %q: %w", mc.Name, err)
		}
	}
	meta, err := s.lookupMetadata()
	if err != nil {
		return err
	}
	s.meta = meta
	s.wire()

	if err := s.paths.AddPath(meta.MasterPath); err != nil {
		return err
	}
	origin := domain.StampPosition{PathNid: meta.MasterPath, Time: domain.LatestTime}
	if err := s.paths.AddPath(meta.DevelopmentPath, origin); err != nil {
		return err
	}

	bootTime := domain.StampTime(s.clock.Now())
	seq := s.stamps.GetStampSequence(domain.StatusActive, bootTime, meta.UserAuthor, meta.CoreModule, meta.MasterPath)
	var conceptNids, semanticNids []int32
	for _, mc := range concepts {
		nid, _ := s.ids.GetNidForUuids(mc.UUID)
		if err := s.ids.SetupNid(nid, meta.ConceptAssemblage, domain.ObjectConcept, domain.VersionConcept); err != nil {
			return err
		}
		concept := domain.NewConceptChronology(nid, mc.UUID, meta.ConceptAssemblage, s.stamps)
		if _, err := concept.CreateVersion(seq, domain.ConceptData{}); err != nil {
			return err
		}
		if err := s.store(concept); err != nil {
			return err
		}
		conceptNids = append(conceptNids, nid)

		fqn := domain.DescriptionData{
			Text:                mc.Name,
			CaseSignificanceNid: meta.CaseInsensitive,
			LanguageNid:         meta.EnglishLanguage,
			DescriptionTypeNid:  meta.FullyQualifiedName,
		}
		descNid, err := s.committedSemantic("fully qualified name: "+mc.Name, meta.DescriptionAssemblage, nid, seq, fqn)
		if err != nil {
			return err
		}
		semanticNids = append(semanticNids, descNid)

		if nid == meta.Root {
			continue
		}
		b := logic.NewBuilder(nid)
		b.Root(b.Necessary(b.And(b.ConceptRef(meta.Root))))
		expr, err := b.Build()
		if err != nil {
			return err
		}
		graph, err := logic.Encode(expr)
		if err != nil {
			return err
		}
		graphNid, err := s.committedSemantic("stated graph: "+mc.Name, meta.StatedAssemblage, nid, seq, domain.LogicGraphData{Graph: graph})
		if err != nil {
			return err
		}
		semanticNids = append(semanticNids, graphNid)
	}
	s.commits.Append(domain.NewCommitRecord(bootTime, []int32{seq}, nil, conceptNids, semanticNids, "metadata"))
	s.logger.Info("metadata bootstrapped", "concepts", len(conceptNids), "time", domain.FormatStampTime(bootTime))
	return nil
}

// committedSemantic creates a semantic whose single version is already
// committed under seq. name seeds its well-known UUID.
func (s *Service) committedSemantic(name string, assemblageNid, referencedNid, seq int32, data domain.VersionData) (int32, error) {
	id := domain.MetadataUUID(name)
	nid, err := s.ids.AssignNid(id)
	if err != nil {
		return 0, err
	}
	if err := s.ids.SetupNid(nid, assemblageNid, domain.ObjectSemantic, data.VersionType()); err != nil {
		return 0, err
	}
	c, err := domain.NewSemanticChronology(nid, id, assemblageNid, referencedNid, data.VersionType(), s.stamps)
	if err != nil {
		return 0, err
	}
	if _, err := c.CreateVersion(seq, data); err != nil {
		return 0, err
	}
	return nid, s.store(c)
}

// store adds a committed chronology and indexes it in the taxonomy.
func (s *Service) store(c *domain.Chronology) error {
	if err := s.chronos.Put(c); err != nil {
		return err
	}
	return s.taxonomy.Update(c)
}
