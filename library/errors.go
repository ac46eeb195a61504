package library

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain failures for callers such as the transport.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindConflict   ErrorKind = "CONFLICT"
	KindStore      ErrorKind = "STORE"
)

var (
	ErrNilDatabase       = errors.New("database handle is nil")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrSchemaMissing     = errors.New("schema is not provisioned")
)

// Error is returned by every LibraryManager operation that fails.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func notFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// storeError keeps the store's diagnostic text verbatim. Domain errors raised
// inside a store callback pass through untouched.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStore, Message: err.Error(), Err: err}
}
