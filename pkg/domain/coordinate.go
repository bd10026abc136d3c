package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Precedence chooses the primary ordering when ranking versions.
type Precedence uint8

const (
	// PrecedencePath prefers versions on the coordinate's own path over
	// versions inherited from origin paths, then prefers later times.
	PrecedencePath Precedence = iota
	// PrecedenceTime prefers later times, then nearer paths.
	PrecedenceTime
)

func (p Precedence) String() string {
	if p == PrecedenceTime {
		return "TIME"
	}
	return "PATH"
}

// StampPosition is a point on a path: everything on PathNid up to Time.
type StampPosition struct {
	PathNid int32 `json:"path_nid"`
	Time    int64 `json:"time"`
}

func (p StampPosition) String() string {
	return fmt.Sprintf("%d@%s", p.PathNid, FormatStampTime(p.Time))
}

// StampCoordinate is an immutable filter selecting visible versions.
type StampCoordinate struct {
	position       StampPosition
	allowed        StatusSet
	moduleNids     []int32
	modulePriority []int32
	precedence     Precedence
}

// NewStampCoordinate builds a coordinate at position admitting the given statuses.
func NewStampCoordinate(position StampPosition, allowed StatusSet) StampCoordinate {
	return StampCoordinate{position: position, allowed: allowed}
}

// LatestOn is a coordinate at the tip of a path admitting the given statuses.
func LatestOn(pathNid int32, allowed StatusSet) StampCoordinate {
	return NewStampCoordinate(StampPosition{PathNid: pathNid, Time: LatestTime}, allowed)
}

func (c StampCoordinate) Position() StampPosition     { return c.position }
func (c StampCoordinate) AllowedStatuses() StatusSet { return c.allowed }
func (c StampCoordinate) Precedence() Precedence     { return c.precedence }

// ModuleNids returns the permitted modules; empty means unrestricted.
func (c StampCoordinate) ModuleNids() []int32 { return slices.Clone(c.moduleNids) }

// ModulePriority returns the module preference order, most preferred first.
func (c StampCoordinate) ModulePriority() []int32 { return slices.Clone(c.modulePriority) }

// AllowsModule reports whether moduleNid passes the module restriction.
func (c StampCoordinate) AllowsModule(moduleNid int32) bool {
	if len(c.moduleNids) == 0 {
		return true
	}
	_, found := slices.BinarySearch(c.moduleNids, moduleNid)
	return found
}

// ModuleRank is the index of moduleNid in the preference order; unlisted
// modules rank after every listed one.
func (c StampCoordinate) ModuleRank(moduleNid int32) int {
	if i := slices.Index(c.modulePriority, moduleNid); i >= 0 {
		return i
	}
	return len(c.modulePriority)
}

// WithPosition returns a copy positioned elsewhere.
func (c StampCoordinate) WithPosition(position StampPosition) StampCoordinate {
	b := c.Clone()
	b.Position = position
	return b.Build()
}

// WithStatuses returns a copy admitting a different status set.
func (c StampCoordinate) WithStatuses(allowed StatusSet) StampCoordinate {
	b := c.Clone()
	b.Allowed = allowed
	return b.Build()
}

// Clone returns an independent, mutable copy for editing.
func (c StampCoordinate) Clone() *CoordinateBuilder {
	return &CoordinateBuilder{
		Position:       c.position,
		Allowed:        c.allowed,
		ModuleNids:     slices.Clone(c.moduleNids),
		ModulePriority: slices.Clone(c.modulePriority),
		Precedence:     c.precedence,
	}
}

// Equal compares coordinates by value.
func (c StampCoordinate) Equal(o StampCoordinate) bool {
	return c.position == o.position &&
		c.allowed == o.allowed &&
		c.precedence == o.precedence &&
		slices.Equal(c.moduleNids, o.moduleNids) &&
		slices.Equal(c.modulePriority, o.modulePriority)
}

func (c StampCoordinate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stamp-coordinate{%s %s %s", c.position, c.allowed, c.precedence)
	if len(c.moduleNids) > 0 {
		fmt.Fprintf(&b, " modules=%v", c.moduleNids)
	}
	if len(c.modulePriority) > 0 {
		fmt.Fprintf(&b, " priority=%v", c.modulePriority)
	}
	b.WriteString("}")
	return b.String()
}

// CoordinateBuilder is the mutable form of a StampCoordinate.
type CoordinateBuilder struct {
	Position       StampPosition
	Allowed        StatusSet
	ModuleNids     []int32
	ModulePriority []int32
	Precedence     Precedence
}

// Build freezes the builder into a coordinate. Module nids are deduplicated
// and sorted; the priority list keeps its order minus duplicates.
func (b *CoordinateBuilder) Build() StampCoordinate {
	modules := slices.Clone(b.ModuleNids)
	slices.Sort(modules)
	modules = slices.Compact(modules)
	priority := make([]int32, 0, len(b.ModulePriority))
	for _, nid := range b.ModulePriority {
		if !slices.Contains(priority, nid) {
			priority = append(priority, nid)
		}
	}
	return StampCoordinate{
		position:       b.Position,
		allowed:        b.Allowed,
		moduleNids:     modules,
		modulePriority: priority,
		precedence:     b.Precedence,
	}
}

// RelativePosition orders two stamps under a coordinate.
type RelativePosition uint8

const (
	PositionUnreachable RelativePosition = iota
	PositionBefore
	PositionEqual
	PositionAfter
	PositionContradiction
)

func (p RelativePosition) String() string {
	switch p {
	case PositionBefore:
		return "BEFORE"
	case PositionEqual:
		return "EQUAL"
	case PositionAfter:
		return "AFTER"
	case PositionContradiction:
		return "CONTRADICTION"
	default:
		return "UNREACHABLE"
	}
}
