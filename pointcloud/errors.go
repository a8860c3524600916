package pointcloud

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is returned when an append would exceed the maximum number
	// of addressable point ids.
	ErrCapacity = errors.New("pointcloud: point capacity exceeded")
	// ErrNoCurrent is returned by cursor operations when no point is selected.
	ErrNoCurrent = errors.New("pointcloud: no current point")
	// ErrIncompatibleSchema is returned when a migration target does not
	// extend the current layout.
	ErrIncompatibleSchema = errors.New("pointcloud: schema does not extend current layout")
	// ErrDuplicateAttribute is returned when an attribute name is already used.
	ErrDuplicateAttribute = errors.New("pointcloud: duplicate attribute")
	// ErrUnknownAttribute is returned when an attribute name cannot be resolved.
	ErrUnknownAttribute = errors.New("pointcloud: unknown attribute")
	// ErrUnknownType is returned for unsupported attribute type names or codes.
	ErrUnknownType = errors.New("pointcloud: unknown attribute type")
	// ErrInvalidAttribute is returned for malformed attribute definitions.
	ErrInvalidAttribute = errors.New("pointcloud: invalid attribute")
	// ErrSchemaMismatch is returned when a record of a foreign stride is appended.
	ErrSchemaMismatch = errors.New("pointcloud: record stride does not match buffer")
)

// AllocationError reports a failed buffer growth or migration.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type AllocationError struct {
	// Op is "grow" or "migrate".
	Op string
	// Bytes is the size of the allocation that was refused.
	Bytes int64
	// Points is the number of points held when the failure occurred.
	Points int
	cause  error
}

func (e *AllocationError) Error() string {
	msg := fmt.Sprintf("pointcloud: %s allocation of %d bytes failed at %d points", e.Op, e.Bytes, e.Points)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() error { return e.cause }
