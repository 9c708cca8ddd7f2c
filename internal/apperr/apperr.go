// Package apperr models the error taxonomy shared across the data pipeline:
// a small closed set of kinds that every component raises instead of ad-hoc
// error strings, so job runners and CLI entry points can branch on Kind
// without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the pipeline raises.
type Kind string

const (
	InvalidArgument    Kind = "invalid_argument"
	NotFound           Kind = "not_found"
	CubeValidationErr  Kind = "cube_validation_error"
	DecodeErr          Kind = "decode_error"
	StorageErr         Kind = "storage_error"
	EncodeErr          Kind = "encode_error"
	ConfigErr          Kind = "config_error"
	Transient          Kind = "transient"
)

// Error wraps an underlying cause with a Kind, the same shape as wrapping a
// redis/pgx error with fmt.Errorf("...: %w", err), while still letting
// callers recover the category with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus translates a Kind to the status code an HTTP collaborator
// would use. The pipeline itself has no HTTP surface; this exists so a
// future router has one obvious place to look up the mapping.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Kind {
	case NotFound:
		return 404
	case InvalidArgument, CubeValidationErr, EncodeErr:
		return 400
	default:
		return 500
	}
}
