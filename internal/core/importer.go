package core

import (
	"context"
	"fmt"
	"io"
	"slices"

	"isaac/internal/changeset"
	"isaac/internal/task"
	"isaac/pkg/domain"
)

// importer applies decoded change-set records to the datastore. Each record
// takes the write lock on its own, so a long import interleaves with other
// writers.
type importer struct {
	s *Service
}

func (im importer) ApplyChronology(_ context.Context, item changeset.ChronologyItem) error {
	s := im.s
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if len(item.UUIDs) == 0 {
		return fmt.Errorf("%w: chronology without uuids", domain.ErrInvalidArgument)
	}
	nid, err := s.ids.AssignNid(item.UUIDs...)
	if err != nil {
		return err
	}
	if err := s.ids.SetupNid(nid, item.AssemblageNid, item.ObjectType, item.VersionType); err != nil {
		return err
	}
	c, ok := s.chronos.Get(nid)
	if !ok {
		primordial, err := s.ids.PrimordialUUID(nid)
		if err != nil {
			return err
		}
		switch item.ObjectType {
		case domain.ObjectConcept:
			c = domain.NewConceptChronology(nid, primordial, item.AssemblageNid, s.stamps)
		case domain.ObjectSemantic:
			c, err = domain.NewSemanticChronology(nid, primordial, item.AssemblageNid, item.ReferencedNid, item.VersionType, s.stamps)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: object type %s", domain.ErrInvalidArgument, item.ObjectType)
		}
	} else if c.VersionType() != item.VersionType {
		return fmt.Errorf("%w: nid %d holds %s versions, change set has %s",
			domain.ErrInvalidArgument, nid, c.VersionType(), item.VersionType)
	}

	added := 0
	for _, v := range item.Versions {
		if v.Stamp.IsUncommitted() {
			return fmt.Errorf("%w: change set carries an uncommitted version of nid %d", domain.ErrInvalidArgument, nid)
		}
		seq := s.stamps.Intern(v.Stamp)
		if _, exists := c.VersionForStamp(seq); exists {
			continue
		}
		if _, err := c.CreateVersion(seq, v.Data); err != nil {
			return err
		}
		added++
	}
	if added == 0 && ok {
		return nil
	}
	return s.store(c)
}

func (im importer) ApplyStampAlias(_ context.Context, item changeset.AliasItem) error {
	s := im.s
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	alias := s.stamps.Intern(item.Alias)
	target := s.stamps.Intern(item.Target)
	if err := s.stamps.AddAlias(alias, target); err != nil {
		return err
	}
	s.taxonomy.Invalidate()
	return nil
}

func (im importer) ApplyCommitRecord(_ context.Context, item changeset.CommitItem) error {
	s := im.s
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	seqs := make([]int32, 0, len(item.Stamps))
	for _, st := range item.Stamps {
		seqs = append(seqs, s.stamps.Intern(st))
	}
	aliases := make(map[int32]int32, len(item.Aliases))
	for _, a := range item.Aliases {
		aliases[s.stamps.Intern(a.Alias)] = s.stamps.Intern(a.Target)
	}
	record := domain.NewCommitRecord(item.Time, seqs, aliases, item.ConceptNids, item.SemanticNids, item.Comment)
	for _, existing := range s.commits.Records() {
		if existing.Time() == record.Time() && slices.Equal(existing.StampSequences(), record.StampSequences()) {
			return nil
		}
	}
	s.commits.Append(record)
	return nil
}

// ImportChangeSets loads every change-set file under the blob prefix that
// has not been loaded yet, as a background task. Per-file failures are
// listed in the summary; the datastore is saved afterwards.
func (s *Service) ImportChangeSets(ctx context.Context) (changeset.Summary, error) {
	var sum changeset.Summary
	err := s.observe(ctx, OpImportChangeSets, func(ctx context.Context) (string, error) {
		if err := s.checkOpen(); err != nil {
			return "", err
		}
		runErr := s.tasks.Run(ctx, "import change sets", func(ctx context.Context, t *task.Task) error {
			t.SetMessage("loading " + s.prefix)
			var err error
			sum, err = s.loader.LoadStore(ctx, s.blobs, s.prefix)
			t.SetTotal(int64(sum.FilesProcessed + sum.FilesSkipped))
			t.Advance(int64(sum.FilesProcessed + sum.FilesSkipped))
			return err
		})
		if saveErr := s.Save(ctx); saveErr != nil && runErr == nil {
			runErr = saveErr
		}
		s.logger.Info("change sets imported",
			"files", sum.FilesProcessed,
			"skipped", sum.FilesSkipped,
			"records", sum.RecordsLoaded,
			"failed", sum.RecordsFailed)
		return s.prefix, runErr
	})
	return sum, err
}

// ImportFile loads one change-set stream named name, skipping it when a
// file of that name was loaded before.
func (s *Service) ImportFile(ctx context.Context, name string, r io.Reader) (changeset.Summary, error) {
	var sum changeset.Summary
	err := s.observe(ctx, OpImportChangeSets, func(ctx context.Context) (string, error) {
		var err error
		sum, err = s.loader.LoadFile(ctx, name, r)
		if err != nil {
			return name, err
		}
		return name, s.Save(ctx)
	})
	return sum, err
}
