package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	blobcore "isaac/internal/blob/core"
	"isaac/internal/changeset"
	"isaac/internal/commit"
	"isaac/internal/coordinate"
	"isaac/internal/logic"
	"isaac/pkg/domain"
)

func nidID(nid int32) string { return strconv.FormatInt(int64(nid), 10) }

// resolveEdit fills a zero edit coordinate with the default and checks the
// path is known.
func (s *Service) resolveEdit(edit domain.EditCoordinate) (domain.EditCoordinate, error) {
	if edit == (domain.EditCoordinate{}) {
		edit = s.DefaultEdit()
	}
	if !s.paths.HasPath(edit.PathNid) {
		return edit, fmt.Errorf("%w: path %d", domain.ErrNotFound, edit.PathNid)
	}
	return edit, nil
}

func orNew(uuids []uuid.UUID) []uuid.UUID {
	if len(uuids) == 0 {
		return []uuid.UUID{uuid.New()}
	}
	return uuids
}

// track registers an edited chronology as pending and refreshes the
// taxonomy so uncommitted edits are visible at the latest time.
func (s *Service) track(c *domain.Chronology) error {
	if err := s.commits.AddUncommitted(c); err != nil {
		return err
	}
	return s.taxonomy.Update(c)
}

// CreateConcept creates a concept with one uncommitted active version. With
// no UUIDs a random one is generated.
func (s *Service) CreateConcept(ctx context.Context, edit domain.EditCoordinate, uuids ...uuid.UUID) (int32, error) {
	var nid int32
	err := s.observe(ctx, OpCreateConcept, func(context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		edit, err := s.resolveEdit(edit)
		if err != nil {
			return "", err
		}
		uuids = orNew(uuids)
		nid, err = s.ids.AssignNid(uuids...)
		if err != nil {
			return "", err
		}
		if s.chronos.Has(nid) {
			return nidID(nid), fmt.Errorf("%w: concept %d already exists", domain.ErrInvalidArgument, nid)
		}
		if err := s.ids.SetupNid(nid, s.meta.ConceptAssemblage, domain.ObjectConcept, domain.VersionConcept); err != nil {
			return nidID(nid), err
		}
		primordial, err := s.ids.PrimordialUUID(nid)
		if err != nil {
			return nidID(nid), err
		}
		c := domain.NewConceptChronology(nid, primordial, s.meta.ConceptAssemblage, s.stamps)
		seq := s.stamps.Intern(edit.UncommittedStamp(domain.StatusActive))
		if _, err := c.CreateVersion(seq, domain.ConceptData{}); err != nil {
			return nidID(nid), err
		}
		return nidID(nid), s.track(c)
	})
	return nid, err
}

// addSemantic creates a semantic chronology with one uncommitted version.
// Callers hold the write lock.
func (s *Service) addSemantic(edit domain.EditCoordinate, assemblageNid, referencedNid int32, data domain.VersionData, uuids []uuid.UUID) (int32, error) {
	if data == nil {
		return 0, fmt.Errorf("%w: nil version data", domain.ErrInvalidArgument)
	}
	edit, err := s.resolveEdit(edit)
	if err != nil {
		return 0, err
	}
	nid, err := s.ids.AssignNid(orNew(uuids)...)
	if err != nil {
		return 0, err
	}
	if s.chronos.Has(nid) {
		return nid, fmt.Errorf("%w: semantic %d already exists", domain.ErrInvalidArgument, nid)
	}
	vt := data.VersionType()
	if err := s.ids.SetupNid(nid, assemblageNid, domain.ObjectSemantic, vt); err != nil {
		return nid, err
	}
	primordial, err := s.ids.PrimordialUUID(nid)
	if err != nil {
		return nid, err
	}
	c, err := domain.NewSemanticChronology(nid, primordial, assemblageNid, referencedNid, vt, s.stamps)
	if err != nil {
		return nid, err
	}
	seq := s.stamps.Intern(edit.UncommittedStamp(domain.StatusActive))
	if _, err := c.CreateVersion(seq, data); err != nil {
		return nid, err
	}
	return nid, s.track(c)
}

// AddSemantic attaches data to referencedNid as a member of assemblageNid.
func (s *Service) AddSemantic(ctx context.Context, edit domain.EditCoordinate, assemblageNid, referencedNid int32, data domain.VersionData, uuids ...uuid.UUID) (int32, error) {
	var nid int32
	err := s.observe(ctx, OpAddSemantic, func(context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		nid, err = s.addSemantic(edit, assemblageNid, referencedNid, data, uuids)
		return nidID(nid), err
	})
	return nid, err
}

// AddDescription adds an English description to conceptNid. Unset
// language, case significance and type default to English, case
// insensitive and regular name.
func (s *Service) AddDescription(ctx context.Context, edit domain.EditCoordinate, conceptNid int32, desc domain.DescriptionData, uuids ...uuid.UUID) (int32, error) {
	if desc.LanguageNid == 0 {
		desc.LanguageNid = s.meta.EnglishLanguage
	}
	if desc.CaseSignificanceNid == 0 {
		desc.CaseSignificanceNid = s.meta.CaseInsensitive
	}
	if desc.DescriptionTypeNid == 0 {
		desc.DescriptionTypeNid = s.meta.RegularName
	}
	var nid int32
	err := s.observe(ctx, OpAddDescription, func(context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		nid, err = s.addSemantic(edit, s.meta.DescriptionAssemblage, conceptNid, desc, uuids)
		return nidID(nid), err
	})
	return nid, err
}

// SetLogicGraph records expr as the premise's definition of its concept,
// adding a version to the existing graph semantic when there is one. It
// returns the graph semantic's nid.
func (s *Service) SetLogicGraph(ctx context.Context, edit domain.EditCoordinate, premise domain.PremiseType, expr *logic.Expression) (int32, error) {
	var nid int32
	err := s.observe(ctx, OpSetLogicGraph, func(context.Context) (string, error) {
		if expr == nil {
			return "", fmt.Errorf("%w: nil logic graph", domain.ErrInvalidArgument)
		}
		graph, err := logic.Encode(expr)
		if err != nil {
			return "", err
		}
		data := domain.LogicGraphData{Graph: graph}
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		assemblage := s.meta.LogicAssemblage(premise)
		existing := s.chronos.SemanticsForOfAssemblage(expr.ConceptNid(), assemblage)
		if len(existing) == 0 {
			nid, err = s.addSemantic(edit, assemblage, expr.ConceptNid(), data, nil)
			return nidID(nid), err
		}
		c := existing[0]
		nid = c.Nid()
		edit, err := s.resolveEdit(edit)
		if err != nil {
			return nidID(nid), err
		}
		return nidID(nid), s.editVersion(c, edit, domain.StatusActive, data)
	})
	return nid, err
}

// editVersion adds or updates the uncommitted version of c for edit. An
// uncommitted version by the same author, module and path is moved onto the
// new status, so one commit yields one version per edit coordinate.
// Otherwise the new version starts as an analog of the latest version on
// the edit path. A nil data keeps the existing payload. Callers hold the
// write lock.
func (s *Service) editVersion(c *domain.Chronology, edit domain.EditCoordinate, status domain.Status, data domain.VersionData) error {
	seq := s.stamps.Intern(edit.UncommittedStamp(status))
	v, ok := c.VersionForStamp(seq)
	if !ok {
		if draft, found := s.draftVersion(c, edit); found {
			if err := c.Restamp(draft.StampSequence(), seq); err != nil {
				return err
			}
			v = draft
			ok = true
		}
	}
	if !ok {
		coord := domain.LatestOn(edit.PathNid, domain.ActiveAndInactive())
		latest := coordinate.LatestVersion(s.calc, c, coord)
		var err error
		if source, found := latest.Get(); found {
			v, err = source.MakeAnalog(seq)
		} else if data != nil {
			v, err = c.CreateVersion(seq, data)
		} else {
			err = fmt.Errorf("%w: nid %d has no version on path %d", domain.ErrNotFound, c.Nid(), edit.PathNid)
		}
		if err != nil {
			return err
		}
	}
	if data != nil {
		if err := v.SetData(data); err != nil {
			return err
		}
	}
	return s.track(c)
}

// draftVersion finds the uncommitted version of c made under edit.
func (s *Service) draftVersion(c *domain.Chronology, edit domain.EditCoordinate) (*domain.Version, bool) {
	for _, v := range c.Versions() {
		st, ok := s.stamps.Stamp(v.StampSequence())
		if !ok || !st.IsUncommitted() {
			continue
		}
		if st.AuthorNid == edit.AuthorNid && st.ModuleNid == edit.ModuleNid && st.PathNid == edit.PathNid {
			return v, true
		}
	}
	return nil, false
}

// EditVersion adds an uncommitted version of nid carrying status and data.
// Editing again before commit replaces the uncommitted version's data.
func (s *Service) EditVersion(ctx context.Context, edit domain.EditCoordinate, nid int32, status domain.Status, data domain.VersionData) error {
	return s.observe(ctx, OpEditVersion, func(context.Context) (string, error) {
		if status == domain.StatusCanceled {
			return nidID(nid), fmt.Errorf("%w: versions cannot be edited into the canceled status", domain.ErrInvalidArgument)
		}
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		edit, err := s.resolveEdit(edit)
		if err != nil {
			return nidID(nid), err
		}
		c, ok := s.chronos.Get(nid)
		if !ok {
			return nidID(nid), fmt.Errorf("%w: component %d", domain.ErrNotFound, nid)
		}
		return nidID(nid), s.editVersion(c, edit, status, data)
	})
}

// RetireComponent adds an uncommitted inactive analog of nid's latest
// version.
func (s *Service) RetireComponent(ctx context.Context, edit domain.EditCoordinate, nid int32) error {
	return s.observe(ctx, OpRetireComponent, func(context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		edit, err := s.resolveEdit(edit)
		if err != nil {
			return nidID(nid), err
		}
		c, ok := s.chronos.Get(nid)
		if !ok {
			return nidID(nid), fmt.Errorf("%w: component %d", domain.ErrNotFound, nid)
		}
		return nidID(nid), s.editVersion(c, edit, domain.StatusInactive, nil)
	})
}

// Commit commits every pending edit. Blocked commits return a
// domain.RuleViolationError and leave the edits pending. After the commit
// the datastore is saved and a change-set file is written; listener
// failures come back as *commit.ListenerError alongside the record.
func (s *Service) Commit(ctx context.Context, comment string) (domain.CommitRecord, error) {
	var record domain.CommitRecord
	err := s.observe(ctx, OpCommit, func(ctx context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		record, err = s.commits.Commit(ctx, comment)
		return strconv.FormatInt(record.Time(), 10), err
	})
	return record, err
}

// Cancel discards every pending edit, returning the nids that had one.
func (s *Service) Cancel(ctx context.Context) ([]int32, error) {
	var nids []int32
	err := s.observe(ctx, OpCancel, func(ctx context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		nids, err = s.commits.Cancel(ctx)
		if err != nil {
			return "", err
		}
		for _, nid := range nids {
			if c, ok := s.chronos.Get(nid); ok {
				if err := s.taxonomy.Update(c); err != nil {
					return "", err
				}
			}
		}
		return "", s.save(ctx)
	})
	return nids, err
}

// AddPath registers pathNid with its origins.
func (s *Service) AddPath(ctx context.Context, pathNid int32, origins ...domain.StampPosition) error {
	return s.observe(ctx, OpAddPath, func(ctx context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		if !s.chronos.Has(pathNid) {
			return nidID(pathNid), fmt.Errorf("%w: path concept %d", domain.ErrNotFound, pathNid)
		}
		if err := s.paths.AddPath(pathNid, origins...); err != nil {
			return nidID(pathNid), err
		}
		return nidID(pathNid), s.save(ctx)
	})
}

// AddStampAlias makes alias stand for target. The alias is listed in the
// next commit record.
func (s *Service) AddStampAlias(ctx context.Context, alias, target int32) error {
	return s.observe(ctx, OpAddStampAlias, func(context.Context) (string, error) {
		unlock, err := s.lock()
		if err != nil {
			return "", err
		}
		defer unlock()
		if err := s.commits.AddAlias(alias, target); err != nil {
			return "", err
		}
		s.taxonomy.Invalidate()
		return fmt.Sprintf("%d->%d", alias, target), nil
	})
}

// Save writes the datastore to its state store.
func (s *Service) Save(ctx context.Context) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return s.save(ctx)
}

// persistListener runs first after every commit, while the service write
// lock is still held: it refreshes the taxonomy, writes the commit's
// change-set file and saves the datastore.
type persistListener struct {
	s *Service
}

func (p persistListener) HandleCommit(ctx context.Context, record domain.CommitRecord) error {
	s := p.s
	for _, nid := range record.ChangedNids() {
		if c, ok := s.chronos.Get(nid); ok {
			if err := s.taxonomy.Update(c); err != nil {
				return err
			}
		}
	}
	if len(record.StampAliases()) > 0 {
		s.taxonomy.Invalidate()
	}
	var errs []error
	if err := s.writeChangeSet(ctx, record); err != nil {
		errs = append(errs, err)
	}
	if err := s.save(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeChangeSet exports the chronologies, aliases and record of one
// commit as <prefix>/<time>-<n>.ibdf, n being the commit's position in
// the history.
func (s *Service) writeChangeSet(ctx context.Context, record domain.CommitRecord) error {
	var buf bytes.Buffer
	w := changeset.NewWriter(&buf, s.ids, s.stamps)
	for _, nid := range record.ChangedNids() {
		c, ok := s.chronos.Get(nid)
		if !ok {
			continue
		}
		if err := w.WriteChronology(c); err != nil {
			return err
		}
	}
	aliases := record.StampAliases()
	keys := make([]int32, 0, len(aliases))
	for alias := range aliases {
		keys = append(keys, alias)
	}
	slices.Sort(keys)
	for _, alias := range keys {
		if err := w.WriteStampAlias(alias, aliases[alias]); err != nil {
			return err
		}
	}
	if err := w.WriteCommitRecord(record); err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%d-%d%s", s.prefix, record.Time(), len(s.commits.Records()), changeset.Extension)
	if _, err := s.blobs.Put(ctx, key, &buf, blobcore.PutOptions{
		ContentType: blobcore.ChangeSetContentType,
		Metadata:    map[string]string{"records": strconv.Itoa(w.Count())},
	}); err != nil {
		return fmt.Errorf("write change set %s: %w", key, err)
	}
	s.loader.MarkProcessed(key)
	s.logger.Debug("change set written", "key", key, "records", w.Count())
	return nil
}

// IsListenerError reports whether err only concerns listeners of an
// otherwise successful commit.
func IsListenerError(err error) bool {
	var le *commit.ListenerError
	return errors.As(err, &le)
}
