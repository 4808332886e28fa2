// Package apperr defines the error kinds surfaced by the client.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindBlockedAccount        Kind = "blocked_account"
	KindDuplicateRegistration Kind = "duplicate_registration"
	KindValidation            Kind = "validation_error"
	KindNetwork               Kind = "network_error"
	KindCancelled             Kind = "cancelled"
	KindOperationInProgress   Kind = "operation_in_progress"
	KindUnauthorized          Kind = "unauthorized"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials, Message: "invalid name or password"}
	ErrBlockedAccount        = &Error{Kind: KindBlockedAccount, Message: "account is blocked"}
	ErrDuplicateRegistration = &Error{Kind: KindDuplicateRegistration, Message: "name or email already registered"}
	ErrValidation            = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNetwork               = &Error{Kind: KindNetwork, Message: "remote store unavailable"}
	ErrCancelled             = &Error{Kind: KindCancelled, Message: "request cancelled"}
	ErrOperationInProgress   = &Error{Kind: KindOperationInProgress, Message: "operation already in progress"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Message: "not allowed"}
)

type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status of a failed remote call, zero otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can compare against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Network(message string, status int, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Status: status, Err: err}
}

func Cancelled(err error) *Error {
	return Wrap(KindCancelled, "request cancelled", err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// UserVisible reports whether err should be shown to the person driving the client.
// Cancellations are silent.
func UserVisible(err error) bool {
	return err != nil && !IsCancelled(err)
}
