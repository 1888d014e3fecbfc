package notification

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so transport layers can map them to a
// status code without string matching.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// Error is the engine's error type. Field is set for validation errors to
// name the offending input.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func ValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func InternalError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, defaulting to KindInternal for errors
// that did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// Sentinel errors for repository lookups.
var (
	ErrNotificationNotFound = NotFoundError("notification not found")
	ErrDeliveryLogNotFound  = NotFoundError("delivery log not found")
	ErrTemplateNotFound     = NotFoundError("template not found")
	ErrDuplicateTemplateKey = ConflictError("template key already exists")
	ErrInvalidTransition    = ConflictError("invalid delivery status transition")
)
