// Package enginerr defines the partition engine's error taxonomy, spec.md §7.
package enginerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors compatible with errors.Is.
var (
	// ErrOffsetOutOfRange is returned by commit or poll with an impossible offset.
	ErrOffsetOutOfRange = errors.New("offset out of range")
	// ErrInvalidPartitionState is returned when an append is attempted on a partition with no segments.
	ErrInvalidPartitionState = errors.New("invalid partition state: no segments")
	// ErrCorruptSegment marks a segment whose log holds a record that cannot be decoded;
	// segment reads return it. Loading a segment does not check for gaps inside it.
	ErrCorruptSegment = errors.New("corrupt segment")
)

// IOError wraps a filesystem/Persister failure with the path that triggered it.
// It is always returned to the caller unmodified; the broker decides whether to
// retry, fail the client, or degrade (spec.md §7, propagation policy).
type IOError struct {
	Path  string
	Cause error
}

func NewIOError(path string, cause error) *IOError {
	return &IOError{Path: path, Cause: pkgerrors.Wrapf(cause, "i/o failure at %s", path)}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error at %s: %v", e.Path, e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}

// OffsetOutOfRangeError carries the requested offset and the highest one available.
type OffsetOutOfRangeError struct {
	Requested uint64
	Available uint64
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset %d out of range, available up to %d", e.Requested, e.Available)
}

func (e *OffsetOutOfRangeError) Unwrap() error {
	return ErrOffsetOutOfRange
}

// CorruptSegmentError names the segment file and the reason its contents could
// not be read. It is returned by Segment.Read when an indexed record cannot be
// decoded. Torn-tail truncation at load only logs a warning and does not produce
// this error, and the loader does not detect a gap in the middle of a segment.
type CorruptSegmentError struct {
	Path   string
	Reason string
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("corrupt segment %s: %s", e.Path, e.Reason)
}

func (e *CorruptSegmentError) Unwrap() error {
	return ErrCorruptSegment
}
