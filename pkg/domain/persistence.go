package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StorageDriver names a StateStore implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
	StorageBadger   StorageDriver = "badger"
)

// NidState is the persisted form of one identifier record.
type NidState struct {
	Nid           int32       `json:"nid"`
	UUIDs         []uuid.UUID `json:"uuids"`
	AssemblageNid int32       `json:"assemblage_nid,omitempty"`
}

// AssemblageState records the component kind of an assemblage's members.
type AssemblageState struct {
	AssemblageNid int32       `json:"assemblage_nid"`
	ObjectType    ObjectType  `json:"object_type"`
	VersionType   VersionType `json:"version_type"`
}

// IdentifierState is the persisted identifier space.
type IdentifierState struct {
	NextNid     int32             `json:"next_nid"`
	Nids        []NidState        `json:"nids"`
	Assemblages []AssemblageState `json:"assemblages,omitempty"`
}

// StampAlias maps an alias stamp onto the stamp it stands for.
type StampAlias struct {
	Alias  int32 `json:"alias"`
	Target int32 `json:"target"`
}

// StampState is the persisted stamp table. Stamps[i] has sequence i+1.
type StampState struct {
	Stamps  []Stamp      `json:"stamps"`
	Pending []int32      `json:"pending,omitempty"`
	Aliases []StampAlias `json:"aliases,omitempty"`
}

// PathState records the origins a path branches from.
type PathState struct {
	PathNid int32           `json:"path_nid"`
	Origins []StampPosition `json:"origins,omitempty"`
}

// DatastoreState is the complete persisted datastore.
type DatastoreState struct {
	Identifiers         IdentifierState   `json:"identifiers"`
	Stamps              StampState        `json:"stamps"`
	Paths               []PathState       `json:"paths"`
	Chronologies        []ChronologyState `json:"chronologies"`
	Commits             []CommitRecord    `json:"commits"`
	ProcessedChangeSets []string          `json:"processed_change_sets"`
}

// Bucket names used by key/value and table-backed stores.
const (
	BucketIdentifiers  = "identifiers"
	BucketStamps       = "stamps"
	BucketPaths        = "paths"
	BucketChronologies = "chronologies"
	BucketCommits      = "commits"
	BucketChangeSets   = "changesets"
)

// BucketNames lists the buckets in write order.
func BucketNames() []string {
	return []string{BucketIdentifiers, BucketStamps, BucketPaths, BucketChronologies, BucketCommits, BucketChangeSets}
}

func (s *DatastoreState) bucketTarget(name string) (any, bool) {
	switch name {
	case BucketIdentifiers:
		return &s.Identifiers, true
	case BucketStamps:
		return &s.Stamps, true
	case BucketPaths:
		return &s.Paths, true
	case BucketChronologies:
		return &s.Chronologies, true
	case BucketCommits:
		return &s.Commits, true
	case BucketChangeSets:
		return &s.ProcessedChangeSets, true
	default:
		return nil, false
	}
}

// Buckets encodes each part of the state as a JSON payload.
func (s DatastoreState) Buckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(BucketNames()))
	for _, name := range BucketNames() {
		target, _ := s.bucketTarget(name)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// StateFromBuckets decodes payloads produced by Buckets. Unknown buckets are ignored.
func StateFromBuckets(buckets map[string][]byte) (DatastoreState, error) {
	var st DatastoreState
	for name, payload := range buckets {
		target, ok := st.bucketTarget(name)
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return DatastoreState{}, fmt.Errorf("%w: decode %s: %v", ErrCorruptState, name, err)
		}
	}
	return st, nil
}

// StateStore persists datastore snapshots. Load reports false when nothing
// has been saved yet.
type StateStore interface {
	Load(ctx context.Context) (DatastoreState, bool, error)
	Save(ctx context.Context, state DatastoreState) error
	Driver() StorageDriver
	Close() error
}
