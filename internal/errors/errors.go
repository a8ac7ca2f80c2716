// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errors gives every layer of the capture pipeline and the API a
// single error shape to produce and consume: a Kind the API layer can map
// straight to an HTTP status, a human message, and an optional wrapped
// cause plus a bag of structured attributes for logging.
package errors

import (
	"errors"
	"fmt"
)

// Kind buckets an error by how it should be handled, independent of what
// produced it. internal/api uses Kind alone to pick an HTTP status.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindInvalidInput
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// HTTPStatus is the status code internal/api writes for a response whose
// error resolves to this Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindPreconditionFailed:
		return 412
	case KindTransient:
		return 503
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// Error is a Kind-tagged error with an optional cause and attribute bag.
// Every boundary in this codebase (store, scanner, assembler, API) returns
// one of these rather than a bare error, so the Kind survives wrapping.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

func (e *Error) Error() string {
	if e.Underlying == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
}

func (e *Error) Unwrap() error { return e.Underlying }

// New builds a Kind-tagged error with no cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf builds a Kind-tagged error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind, keeping err as the cause. Returns nil for a nil
// err so call sites can write `return errors.Wrap(err, ..., ...)` unguarded.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Attr records a key/value on err for later retrieval by GetAttributes. If
// err isn't already an *Error it's promoted to one, tagged KindInternal,
// so callers can attach context to errors returned from outside this
// package (a driver, the standard library) without a separate wrap step.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: err.Error(), Underlying: err}
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// GetKind walks err's chain for the first *Error and returns its Kind, or
// KindUnknown if err never passed through this package.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetAttributes merges every *Error in err's chain into one map, innermost
// wrap losing to outermost on key collision. Most errors only carry one
// *Error in their chain, but wrapping can stack attributes from several
// layers (store, then finalizer, then API) onto the same failure.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)

	var e *Error
	for cur := err; cur != nil; {
		if !errors.As(cur, &e) {
			break
		}
		for k, v := range e.Attributes {
			if _, seen := attrs[k]; !seen {
				attrs[k] = v
			}
		}
		cur = e.Underlying
	}
	return attrs
}

// Is, As and Unwrap re-export the standard library so callers only need to
// import this package when working with Kind-tagged errors.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func Unwrap(err error) error        { return errors.Unwrap(err) }
