package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// StampReader answers the one question a version chain asks of the stamp store.
type StampReader interface {
	IsUncommitted(stampSequence int32) bool
}

// Version is one historical state of a component.
type Version struct {
	chronology    *Chronology
	stampSequence int32
	data          VersionData
}

// NewVersion builds a detached version; AddVersion attaches it to a chain.
func NewVersion(stampSequence int32, data VersionData) *Version {
	return &Version{stampSequence: stampSequence, data: CloneData(data)}
}

// StampSequence returns the stamp the version is tagged with.
func (v *Version) StampSequence() int32 {
	if v.chronology != nil {
		v.chronology.mu.RLock()
		defer v.chronology.mu.RUnlock()
	}
	return v.stampSequence
}

// Nid returns the owning component's nid, or zero for a detached version.
func (v *Version) Nid() int32 {
	if v.chronology == nil {
		return 0
	}
	return v.chronology.nid
}

// Chronology returns the owning chain.
func (v *Version) Chronology() *Chronology { return v.chronology }

// Data returns a copy of the payload.
func (v *Version) Data() VersionData {
	if v.chronology != nil {
		v.chronology.mu.RLock()
		defer v.chronology.mu.RUnlock()
	}
	return CloneData(v.data)
}

// SetData replaces the payload. Committed versions are immutable.
func (v *Version) SetData(data VersionData) error {
	if data == nil {
		return fmt.Errorf("%w: nil version data", ErrInvalidArgument)
	}
	if v.chronology == nil {
		if v.data != nil && v.data.VersionType() != data.VersionType() {
			return fmt.Errorf("%w: cannot replace %s data with %s", ErrInvalidArgument, v.data.VersionType(), data.VersionType())
		}
		v.data = CloneData(data)
		return nil
	}
	c := v.chronology
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkChangesAllowed(v.stampSequence); err != nil {
		return err
	}
	if data.VersionType() != c.versionType {
		return fmt.Errorf("%w: chronology %d holds %s versions, got %s", ErrInvalidArgument, c.nid, c.versionType, data.VersionType())
	}
	v.data = CloneData(data)
	return nil
}

// MakeAnalog copies this version's payload into a new version stamped with
// stampSequence and appends it to the chain.
func (v *Version) MakeAnalog(stampSequence int32) (*Version, error) {
	if v.chronology == nil {
		return nil, fmt.Errorf("%w: analog of a detached version", ErrUnsupported)
	}
	return v.chronology.MakeAnalog(v, stampSequence)
}

// DataEquals compares payloads, ignoring stamps.
func (v *Version) DataEquals(other *Version) bool {
	return DataEquals(v.Data(), other.Data())
}

// EditDistance counts differing payload fields, ignoring stamps.
func (v *Version) EditDistance(other *Version) int {
	return EditDistance(v.Data(), other.Data())
}

// Chronology owns the insertion-ordered version chain of one component.
type Chronology struct {
	mu                     sync.RWMutex
	nid                    int32
	primordialUUID         uuid.UUID
	objectType             ObjectType
	versionType            VersionType
	assemblageNid          int32
	referencedComponentNid int32
	stamps                 StampReader
	versions               []*Version
}

// NewConceptChronology creates an empty concept chain.
func NewConceptChronology(nid int32, primordial uuid.UUID, assemblageNid int32, stamps StampReader) *Chronology {
	return &Chronology{
		nid:            nid,
		primordialUUID: primordial,
		objectType:     ObjectConcept,
		versionType:    VersionConcept,
		assemblageNid:  assemblageNid,
		stamps:         stamps,
	}
}

// NewSemanticChronology creates an empty semantic chain attached to referencedComponentNid.
func NewSemanticChronology(nid int32, primordial uuid.UUID, assemblageNid, referencedComponentNid int32, versionType VersionType, stamps StampReader) (*Chronology, error) {
	if versionType == VersionUnknown || versionType == VersionConcept {
		return nil, fmt.Errorf("%w: semantic version type %s", ErrInvalidArgument, versionType)
	}
	return &Chronology{
		nid:                    nid,
		primordialUUID:         primordial,
		objectType:             ObjectSemantic,
		versionType:            versionType,
		assemblageNid:          assemblageNid,
		referencedComponentNid: referencedComponentNid,
		stamps:                 stamps,
	}, nil
}

func (c *Chronology) Nid() int32                    { return c.nid }
func (c *Chronology) PrimordialUUID() uuid.UUID     { return c.primordialUUID }
func (c *Chronology) ObjectType() ObjectType        { return c.objectType }
func (c *Chronology) VersionType() VersionType      { return c.versionType }
func (c *Chronology) AssemblageNid() int32          { return c.assemblageNid }
func (c *Chronology) ReferencedComponentNid() int32 { return c.referencedComponentNid }

// BindStamps sets the stamp reader used by the mutation guard.
func (c *Chronology) BindStamps(stamps StampReader) {
	c.mu.Lock()
	c.stamps = stamps
	c.mu.Unlock()
}

// AddVersion appends a detached version to the chain.
func (c *Chronology) AddVersion(v *Version) error {
	if v == nil || v.data == nil {
		return fmt.Errorf("%w: version without data", ErrInvalidArgument)
	}
	if v.chronology != nil {
		return fmt.Errorf("%w: version already belongs to chronology %d", ErrInvalidArgument, v.chronology.nid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.data.VersionType() != c.versionType {
		return fmt.Errorf("%w: chronology %d holds %s versions, got %s", ErrInvalidArgument, c.nid, c.versionType, v.data.VersionType())
	}
	if c.indexOf(v.stampSequence) >= 0 {
		return fmt.Errorf("%w: stamp %d on nid %d", ErrDuplicateStamp, v.stampSequence, c.nid)
	}
	v.chronology = c
	c.versions = append(c.versions, v)
	return nil
}

// CreateVersion is a convenience for NewVersion followed by AddVersion.
func (c *Chronology) CreateVersion(stampSequence int32, data VersionData) (*Version, error) {
	v := NewVersion(stampSequence, data)
	if err := c.AddVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

// MakeAnalog appends a copy of source stamped with stampSequence.
func (c *Chronology) MakeAnalog(source *Version, stampSequence int32) (*Version, error) {
	if source == nil || source.chronology != c {
		return nil, fmt.Errorf("%w: analog source is not part of chronology %d", ErrInvalidArgument, c.nid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !source.data.Editable() {
		return nil, fmt.Errorf("%w: %s versions have no editable analog", ErrUnsupported, source.data.VersionType())
	}
	if c.indexOf(stampSequence) >= 0 {
		return nil, fmt.Errorf("%w: stamp %d on nid %d", ErrDuplicateStamp, stampSequence, c.nid)
	}
	analog := &Version{chronology: c, stampSequence: stampSequence, data: source.data.clone()}
	c.versions = append(c.versions, analog)
	return analog, nil
}

// Versions returns the chain in insertion order.
func (c *Chronology) Versions() []*Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Version(nil), c.versions...)
}

// VersionForStamp returns the version carrying stampSequence.
func (c *Chronology) VersionForStamp(stampSequence int32) (*Version, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(stampSequence); i >= 0 {
		return c.versions[i], true
	}
	return nil, false
}

// StampSequences lists the stamps of every version in insertion order.
func (c *Chronology) StampSequences() []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int32, len(c.versions))
	for i, v := range c.versions {
		out[i] = v.stampSequence
	}
	return out
}

// Restamp moves an uncommitted version onto a new stamp; it is how commit
// and cancel finalize in-progress edits.
func (c *Chronology) Restamp(from, to int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(from)
	if i < 0 {
		return fmt.Errorf("%w: stamp %d on nid %d", ErrNotFound, from, c.nid)
	}
	if err := c.checkChangesAllowed(from); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if c.indexOf(to) >= 0 {
		return fmt.Errorf("%w: stamp %d on nid %d", ErrDuplicateStamp, to, c.nid)
	}
	c.versions[i].stampSequence = to
	return nil
}

func (c *Chronology) indexOf(stampSequence int32) int {
	for i, v := range c.versions {
		if v.stampSequence == stampSequence {
			return i
		}
	}
	return -1
}

func (c *Chronology) checkChangesAllowed(stampSequence int32) error {
	if c.stamps == nil || !c.stamps.IsUncommitted(stampSequence) {
		return fmt.Errorf("%w: nid %d stamp %d", ErrCommittedVersion, c.nid, stampSequence)
	}
	return nil
}

// VersionState is the persisted form of a version.
type VersionState struct {
	StampSequence int32           `json:"stamp"`
	Data          json.RawMessage `json:"data"`
}

// ChronologyState is the persisted form of a chronology.
type ChronologyState struct {
	Nid                    int32          `json:"nid"`
	PrimordialUUID         uuid.UUID      `json:"primordial_uuid"`
	ObjectType             ObjectType     `json:"object_type"`
	VersionType            VersionType    `json:"version_type"`
	AssemblageNid          int32          `json:"assemblage_nid"`
	ReferencedComponentNid int32          `json:"referenced_component_nid,omitempty"`
	Versions               []VersionState `json:"versions"`
}

// State exports the chain for persistence.
func (c *Chronology) State() (ChronologyState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := ChronologyState{
		Nid:                    c.nid,
		PrimordialUUID:         c.primordialUUID,
		ObjectType:             c.objectType,
		VersionType:            c.versionType,
		AssemblageNid:          c.assemblageNid,
		ReferencedComponentNid: c.referencedComponentNid,
		Versions:               make([]VersionState, 0, len(c.versions)),
	}
	for _, v := range c.versions {
		raw, err := json.Marshal(v.data)
		if err != nil {
			return ChronologyState{}, fmt.Errorf("encode nid %d stamp %d: %w", c.nid, v.stampSequence, err)
		}
		st.Versions = append(st.Versions, VersionState{StampSequence: v.stampSequence, Data: raw})
	}
	return st, nil
}

// ChronologyFromState rebuilds a chain from its persisted form.
func ChronologyFromState(st ChronologyState, stamps StampReader) (*Chronology, error) {
	c := &Chronology{
		nid:                    st.Nid,
		primordialUUID:         st.PrimordialUUID,
		objectType:             st.ObjectType,
		versionType:            st.VersionType,
		assemblageNid:          st.AssemblageNid,
		referencedComponentNid: st.ReferencedComponentNid,
		stamps:                 stamps,
	}
	for _, vs := range st.Versions {
		data, err := DecodeVersionData(st.VersionType, vs.Data)
		if err != nil {
			return nil, fmt.Errorf("decode nid %d stamp %d: %w", st.Nid, vs.StampSequence, err)
		}
		if err := c.AddVersion(NewVersion(vs.StampSequence, data)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
	}
	return c, nil
}

// SortedNids returns the nids in ascending order; helper for deterministic output.
func SortedNids(set map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(set))
	for nid := range set {
		out = append(out, nid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
