package session

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the Negotiator wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
	ErrExpired    = errors.New("session expired")
	ErrConflict   = errors.New("conflicting concurrent update")
	ErrInternal   = errors.New("internal error")
)

// Store-level sentinels returned by RecordStore implementations.
var (
	ErrRecordNotFound   = errors.New("session record not found")
	ErrConcurrentUpdate = errors.New("session records changed concurrently")
)

var kindCodes = map[error]string{
	ErrValidation: "VALIDATION",
	ErrAuth:       "AUTH",
	ErrNotFound:   "NOT_FOUND",
	ErrExpired:    "EXPIRED",
	ErrConflict:   "CONFLICT",
	ErrInternal:   "INTERNAL",
}

// Error is the typed failure returned to callers.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("session %s: %s", e.Op, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func wrapError(op string, kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// storeError classifies an error coming back from a store call.
func storeError(op, msg string, err error) *Error {
	switch {
	case errors.Is(err, ErrConcurrentUpdate):
		return wrapError(op, ErrConflict, msg, err)
	case errors.Is(err, ErrRecordNotFound):
		return wrapError(op, ErrNotFound, msg, err)
	default:
		return wrapError(op, ErrInternal, msg, err)
	}
}

// KindOf returns the kind sentinel err wraps, or ErrInternal.
func KindOf(err error) error {
	for kind := range kindCodes {
		if kind != ErrInternal && errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// Code returns the wire code of err's kind, e.g. "NOT_FOUND".
func Code(err error) string {
	return kindCodes[KindOf(err)]
}
