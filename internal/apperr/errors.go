// Package apperr defines the error taxonomy shared by the chat core. Every
// failure reported back to a client is classified into one Kind, which maps
// to a stable wire error code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting purposes.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindValidation
	KindPersistence
	KindNotFound
	KindRateLimited
	KindForbidden
)

// Wire error codes, one per Kind.
const (
	CodeInternal    = "internal"
	CodeAuth        = "auth_failed"
	CodeValidation  = "invalid_message"
	CodePersistence = "persistence_failed"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeForbidden   = "forbidden"
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Code returns the wire error code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindAuth:
		return CodeAuth
	case KindValidation:
		return CodeValidation
	case KindPersistence:
		return CodePersistence
	case KindNotFound:
		return CodeNotFound
	case KindRateLimited:
		return CodeRateLimited
	case KindForbidden:
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "chat.submit"), Msg is safe to show to the client and Err is the
// optional underlying cause, which is never sent over the wire.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Auth reports a rejected credential.
func Auth(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Msg: "authentication failed", Err: err}
}

// Validation reports invalid client input.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Persistence reports an unavailable or failing store.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Msg: "storage unavailable", Err: err}
}

// NotFound reports an operation on an unknown entity.
func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: what + " not found"}
}

// RateLimited reports a throttled action.
func RateLimited(op string) error {
	return &Error{Kind: KindRateLimited, Op: op, Msg: "too many requests"}
}

// Forbidden reports an action the user is not allowed to take.
func Forbidden(op, msg string) error {
	return &Error{Kind: KindForbidden, Op: op, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message for err. Unclassified errors are
// reported generically so internal details never leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}
