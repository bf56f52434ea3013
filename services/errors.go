package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrInvalidChatHistory is wrapped by every payload rejection.
var ErrInvalidChatHistory = errors.New("invalid chat history data")

var (
	ErrMalformedChatHistory = fmt.Errorf("%w: malformed json", ErrInvalidChatHistory)
	ErrUnexpectedShape      = fmt.Errorf("%w: expected an array of objects", ErrInvalidChatHistory)
	ErrEmptyChatHistory     = fmt.Errorf("%w: no entries", ErrInvalidChatHistory)
)

// EntryError reports an element of the batch that lacks a required field.
type EntryError struct {
	Index int
	Field string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d: missing %s", e.Index, e.Field)
}

func (e *EntryError) Unwrap() error { return ErrInvalidChatHistory }

// ConnectionError means the storage backend could not be reached; nothing was written.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }

// InsertError is returned when an insert fails. Saved is the number of rows
// that remain committed.
type InsertError struct {
	Index int
	Saved int
	Err   error
}

func (e *InsertError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("commit: %v", e.Err)
	}
	return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// dbErrorAttrs extracts postgres diagnostics for logging.
func dbErrorAttrs(err error) []any {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	attrs := []any{"sqlstate", string(pqErr.Code), "sqlstate_name", pqErr.Code.Name()}
	if pqErr.Constraint != "" {
		attrs = append(attrs, "constraint", pqErr.Constraint)
	}
	if pqErr.Column != "" {
		attrs = append(attrs, "column", pqErr.Column)
	}
	return attrs
}
