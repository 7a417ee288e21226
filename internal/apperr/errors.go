// Package apperr defines the typed errors shared by the attendance domain.
// Callers branch on kind with errors.Is against the exported sentinels.
package apperr

import "errors"

// Sentinels for each error kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrAuth          = errors.New("unauthorized")
	ErrNotRecognized = errors.New("not recognized")
)

// Error carries a kind sentinel plus a human-readable message.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Is makes errors.Is(err, apperr.ErrConflict) & co. work.
func (e *Error) Is(target error) bool { return target == e.kind }

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Validation flags missing or malformed input.
func Validation(msg string) error { return newError(ErrValidation, msg) }

// Conflict flags a mutation the current state forbids, e.g. a closed session.
func Conflict(msg string) error { return newError(ErrConflict, msg) }

// NotFound flags a missing session, student or attendance record.
func NotFound(msg string) error { return newError(ErrNotFound, msg) }

// Auth flags an invalid device or user credential.
func Auth(msg string) error { return newError(ErrAuth, msg) }

// NotRecognized flags a facial match below the service threshold.
func NotRecognized(msg string) error { return newError(ErrNotRecognized, msg) }
