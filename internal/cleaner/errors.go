package cleaner

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the HTTP layer.
type Kind string

const (
	// KindUnsupportedFormat means the byte stream was not recognized as the
	// declared format at all. Fatal at the load stage.
	KindUnsupportedFormat Kind = "unsupported_format"

	// KindCorruptDocument means the format was recognized but the document
	// is structurally invalid. Fatal at the load stage.
	KindCorruptDocument Kind = "corrupt_document"

	// KindNoMatchFound is a normal terminal outcome, never returned as an
	// error: Clean reports it through Result.Found == false and callers may
	// still hand back the original bytes. Defined here so the HTTP layer
	// can name the outcome consistently.
	KindNoMatchFound Kind = "no_match_found"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind   Kind
	Format Format
	Err    error
}

func (e *Error) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Format, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKind extracts the failure kind from an error chain, or "" if the error
// is not a classified cleaner failure.
func ErrKind(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
