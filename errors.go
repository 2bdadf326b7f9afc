package lantern

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is against these, or errors.As against
// the concrete *MissingError / *RevConflictError / *BadArgumentError types
// when the payload (reason, offending rev) is needed.
var (
	ErrMissing            = errors.New("lantern: missing")
	ErrMissingStub        = errors.New("lantern: missing attachment stub")
	ErrRevConflict        = errors.New("lantern: revision conflict")
	ErrBadArgument        = errors.New("lantern: bad argument")
	ErrNotOpen            = errors.New("lantern: database not open")
	ErrBackendUnavailable = errors.New("lantern: backend unavailable")
)

// MissingError is returned by Get/GetLocal when a document is absent or its
// winning revision is deleted. Reason distinguishes the two per spec.md §7.
type MissingError struct {
	ID     string
	Reason string // "missing" or "deleted"
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("lantern: %s: %s", e.Reason, e.ID)
}

func (e *MissingError) Unwrap() error { return ErrMissing }

func newMissing(id, reason string) error {
	return &MissingError{ID: id, Reason: reason}
}

// MissingStubError names the digest a bulk write referenced without a
// matching attach_store entry.
type MissingStubError struct {
	Digest string
}

func (e *MissingStubError) Error() string {
	return fmt.Sprintf("lantern: missing attachment stub: %s", e.Digest)
}

func (e *MissingStubError) Unwrap() error { return ErrMissingStub }

// RevConflictError carries the id and the rev the caller supplied when a
// local-doc mutation lost the optimistic-concurrency check.
type RevConflictError struct {
	ID  string
	Rev string
}

func (e *RevConflictError) Error() string {
	return fmt.Sprintf("lantern: revision conflict: %s@%s", e.ID, e.Rev)
}

func (e *RevConflictError) Unwrap() error { return ErrRevConflict }

// BadArgumentError wraps a malformed-input condition (e.g. a non-base64
// attachment string) with the field that failed validation.
type BadArgumentError struct {
	Field  string
	Reason string
}

func (e *BadArgumentError) Error() string {
	return fmt.Sprintf("lantern: bad argument %q: %s", e.Field, e.Reason)
}

func (e *BadArgumentError) Unwrap() error { return ErrBadArgument }
