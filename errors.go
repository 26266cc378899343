package acdat

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedInput reports fewer bytes available than a structure needs.
	ErrTruncatedInput = errors.New("truncated input")

	// ErrInvalidChain reports a sector continuation pointer outside the
	// archive while more data is still required.
	ErrInvalidChain = errors.New("invalid sector chain")

	// ErrMalformedTree reports a directory node whose entry count or branch
	// layout breaks the fixed-fanout invariant.
	ErrMalformedTree = errors.New("malformed directory tree")

	// ErrCorruptHeader reports an internal node without entries. It matches
	// ErrMalformedTree under errors.Is.
	ErrCorruptHeader = fmt.Errorf("%w: internal node has no entries", ErrMalformedTree)

	// ErrCycleOrTooDeep reports that directory recursion revisited an
	// ancestor offset or exceeded the depth limit.
	ErrCycleOrTooDeep = errors.New("directory cycle or tree too deep")

	// ErrUnsupportedForm is matched by every *UnsupportedFormError.
	ErrUnsupportedForm = errors.New("unsupported asset form")

	// ErrInvalidHeader reports a database header that cannot address the
	// archive it was read from.
	ErrInvalidHeader = errors.New("invalid database header")

	ErrObjectNotFound = errors.New("object not found")
	ErrClosed         = errors.New("archive closed")
)

// UnsupportedFormError carries the discriminant of an asset payload whose
// layout is unknown. Callers must skip the record rather than guess.
type UnsupportedFormError struct {
	Offset uint32
	Form   uint32
}

func (e *UnsupportedFormError) Error() string {
	return fmt.Sprintf("unsupported asset form %d at offset %#x", e.Form, e.Offset)
}

func (e *UnsupportedFormError) Is(target error) bool { return target == ErrUnsupportedForm }

// NodeError attributes a directory failure to the node that caused it.
type NodeError struct {
	// Offset is the sector offset of the failing node.
	Offset uint32

	// Depth is the node's distance from the root (root = 0).
	Depth int

	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("directory node %#x (depth %d): %v", e.Offset, e.Depth, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
