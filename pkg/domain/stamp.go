package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the lifecycle state recorded on a stamp.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusInactive
	StatusPrimordial
	StatusCanceled
)

// String renders the status using its canonical upper-case name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	case StatusPrimordial:
		return "PRIMORDIAL"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// IsActive reports whether content carrying this status should be treated as active.
func (s Status) IsActive() bool {
	return s == StatusActive || s == StatusPrimordial
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(name string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ACTIVE":
		return StatusActive, nil
	case "INACTIVE":
		return StatusInactive, nil
	case "PRIMORDIAL":
		return StatusPrimordial, nil
	case "CANCELED", "CANCELLED":
		return StatusCanceled, nil
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, name)
	}
}

// StatusSet is a small bitset of statuses.
type StatusSet uint8

// StatusesOf builds a set from the supplied statuses.
func StatusesOf(statuses ...Status) StatusSet {
	var set StatusSet
	for _, s := range statuses {
		set |= 1 << s
	}
	return set
}

// ActiveOnly is the set containing only ACTIVE.
func ActiveOnly() StatusSet { return StatusesOf(StatusActive) }

// ActiveAndInactive admits every status a committed edit may carry.
func ActiveAndInactive() StatusSet {
	return StatusesOf(StatusActive, StatusInactive, StatusPrimordial)
}

// Contains reports membership. An empty set contains nothing.
func (s StatusSet) Contains(status Status) bool {
	return s&(1<<status) != 0
}

// Statuses returns the members in ascending order.
func (s StatusSet) Statuses() []Status {
	var out []Status
	for _, st := range []Status{StatusActive, StatusInactive, StatusPrimordial, StatusCanceled} {
		if s.Contains(st) {
			out = append(out, st)
		}
	}
	return out
}

func (s StatusSet) String() string {
	parts := make([]string, 0, 4)
	for _, st := range s.Statuses() {
		parts = append(parts, st.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

const (
	// UncommittedTime marks a stamp that belongs to an in-progress edit.
	UncommittedTime int64 = math.MaxInt64
	// CanceledTime marks a stamp whose edit was canceled.
	CanceledTime int64 = math.MinInt64
	// LatestTime is the coordinate time meaning "no cutoff".
	LatestTime int64 = math.MaxInt64
)

// Stamp is the immutable Status/Time/Author/Module/Path tuple attached to
// every version. Time is epoch milliseconds.
type Stamp struct {
	Status    Status `json:"status"`
	Time      int64  `json:"time"`
	AuthorNid int32  `json:"author_nid"`
	ModuleNid int32  `json:"module_nid"`
	PathNid   int32  `json:"path_nid"`
}

// IsUncommitted reports whether the stamp belongs to an in-progress edit.
func (s Stamp) IsUncommitted() bool { return s.Time == UncommittedTime }

// IsCanceled reports whether the stamp belongs to a canceled edit.
func (s Stamp) IsCanceled() bool {
	return s.Status == StatusCanceled || s.Time == CanceledTime
}

// FormatStampTime renders a stamp time, naming the sentinel values.
func FormatStampTime(t int64) string {
	switch t {
	case UncommittedTime:
		return "uncommitted"
	case CanceledTime:
		return "canceled"
	default:
		return time.UnixMilli(t).UTC().Format(time.RFC3339Nano)
	}
}

// StampTime converts a wall-clock time into stamp time.
func StampTime(t time.Time) int64 { return t.UnixMilli() }

// EditCoordinate identifies who is editing, in which module and on which path.
type EditCoordinate struct {
	AuthorNid int32 `json:"author_nid"`
	ModuleNid int32 `json:"module_nid"`
	PathNid   int32 `json:"path_nid"`
}

// UncommittedStamp returns the stamp used for new, not yet committed versions.
func (e EditCoordinate) UncommittedStamp(status Status) Stamp {
	return Stamp{
		Status:    status,
		Time:      UncommittedTime,
		AuthorNid: e.AuthorNid,
		ModuleNid: e.ModuleNid,
		PathNid:   e.PathNid,
	}
}
