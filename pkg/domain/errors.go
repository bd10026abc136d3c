package domain

import "errors"

var (
	// ErrNotFound is returned when an identifier, stamp or component is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports a caller-contract violation on input values.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCommittedVersion is returned when a committed version is mutated.
	ErrCommittedVersion = errors.New("version is committed and cannot be changed")
	// ErrDuplicateStamp is returned when a chain already holds a version with the stamp.
	ErrDuplicateStamp = errors.New("duplicate stamp sequence in version chain")
	// ErrUnsupported is returned for operations a component kind does not support.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrAliasCycle reports a malformed stamp alias graph.
	ErrAliasCycle = errors.New("stamp alias cycle")
	// ErrUnknownFormatVersion is returned when serialized data uses an unknown format.
	ErrUnknownFormatVersion = errors.New("unknown data format version")
	// ErrCorruptState reports persisted state that cannot be loaded consistently.
	ErrCorruptState = errors.New("corrupt datastore state")
)
