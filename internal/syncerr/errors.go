// Package syncerr defines the closed error taxonomy used across the bridge.
//
// Startup failures (configuration, connection) are fatal and abort the
// process. Per-cycle failures (fetch, materialization) are recoverable: the
// sync loop logs them and carries on with the next cycle.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindConfiguration indicates invalid or missing configuration, including
	// a missing credential file.
	KindConfiguration Kind = "CONFIGURATION"
	// KindConnection indicates the record store could not be reached or
	// rejected the credentials at startup.
	KindConnection Kind = "CONNECTION"
	// KindFetch indicates a snapshot could not be read from the store.
	KindFetch Kind = "FETCH"
	// KindMaterialization indicates a snapshot could not be turned into a
	// table or written to its destination.
	KindMaterialization Kind = "MATERIALIZATION"
)

// Sentinels for errors.Is matching on kind alone.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrConnection      = &Error{Kind: KindConnection}
	ErrFetch           = &Error{Kind: KindFetch}
	ErrMaterialization = &Error{Kind: KindMaterialization}
)

// Error is a classified error with the failing operation and its cause.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return fmt.Sprintf("[%s]", e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New creates an error of the given kind without an underlying cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap classifies err. err must not be nil.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapWithContext classifies err and attaches key/value context for logging.
func WrapWithContext(kind Kind, op string, err error, context map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Context: context}
}

// Ensure returns err unchanged if it is already classified, otherwise wraps
// it with the given kind. A nil err yields nil.
func Ensure(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return Wrap(kind, op, err)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal reports whether err should abort the process.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindConfiguration || kind == KindConnection
}
