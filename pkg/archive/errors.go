package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrOffsetOverflow is returned when a relative offset or a length does
	// not fit the offset width chosen for the build.
	ErrOffsetOverflow = errors.New("archive: offset out of range")
	// ErrSchemaMismatch is returned when a value disagrees with its type.
	ErrSchemaMismatch = errors.New("archive: value does not match schema")
	// ErrFinalized is returned by a Builder that already produced its buffer.
	ErrFinalized = errors.New("archive: builder finalized")
	// ErrEmpty is returned when finalizing a Builder that wrote nothing.
	ErrEmpty = errors.New("archive: no document written")
)

// BuildError locates a build failure inside the document. Err wraps
// ErrOffsetOverflow or ErrSchemaMismatch.
type BuildError struct {
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("archive: build %s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func mismatch(format string, args ...any) error {
	return &BuildError{Err: fmt.Errorf("%w: "+format, append([]any{ErrSchemaMismatch}, args...)...)}
}

func overflow(format string, args ...any) error {
	return &BuildError{Err: fmt.Errorf("%w: "+format, append([]any{ErrOffsetOverflow}, args...)...)}
}

// within prefixes the path of a BuildError with the segment of its parent.
func within(err error, seg string) error {
	var be *BuildError
	if errors.As(err, &be) {
		be.Path = seg + be.Path
	}
	return err
}

// ErrorKind classifies a validation failure. Kinds are errors themselves so
// callers can test for them with errors.Is.
type ErrorKind struct{ name string }

func (k *ErrorKind) Error() string { return k.name }

var (
	// OutOfBounds: a position, pointer target or the root lies outside the
	// region it must be in.
	OutOfBounds = &ErrorKind{"out of bounds"}
	// Misaligned: a value does not start at a multiple of its alignment.
	Misaligned = &ErrorKind{"misaligned"}
	// InvalidTag: a bool, presence byte or union tag outside its declared set.
	InvalidTag = &ErrorKind{"invalid tag"}
	// LengthOverflow: a length overflows or exceeds the bytes available.
	LengthOverflow = &ErrorKind{"length overflow"}
	InvalidHeader  = &ErrorKind{"invalid header"}
	SchemaIdentity = &ErrorKind{"schema identity mismatch"}
	InvalidUTF8    = &ErrorKind{"invalid utf-8"}
	UnorderedKeys  = &ErrorKind{"map keys not strictly ascending"}
	DepthExceeded  = &ErrorKind{"depth limit exceeded"}
)

// ValidationError reports the first problem found in an untrusted buffer.
type ValidationError struct {
	Offset int
	Kind   *ErrorKind
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("archive: invalid buffer at offset %d: %s", e.Offset, e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(off int, kind *ErrorKind) error {
	return &ValidationError{Offset: off, Kind: kind}
}
