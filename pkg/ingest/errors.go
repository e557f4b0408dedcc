package ingest

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrMalformed   = errors.New("malformed record")
	ErrIDMismatch  = errors.New("record id does not match its key")
	ErrBadRelation = errors.New("unknown relation ordinal")
	ErrInvalid     = errors.New("invalid field")
)

// RecordError describes one rejected input record
type RecordError struct {
	Op    string // "entities" or "links"
	Kind  string // "entity" or "link"
	ID    string // key or index of the record
	Field string // wire field name, if known
	Cause error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s %s (field %s): %v", e.Op, e.Kind, e.ID, e.Field, e.Cause)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.ID, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecordError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *RecordError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}
