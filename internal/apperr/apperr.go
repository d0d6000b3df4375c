// Package apperr defines the error taxonomy shared by the real-time core.
// Every failure that reaches a connection handler is one of these kinds and is
// reported to the originating connection as a single error frame.
package apperr

import (
	"context"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindPersist    Kind = "persist"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Auth failure reasons reported at handshake.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonExpired      = "expired"
	ReasonUserNotFound = "user_not_found"
)

const (
	msgPermission = "No permission to access this channel"
	msgPersist    = "Failed to save changes, please try again"
	msgInternal   = "Internal server error"
)

// Error is a classified failure. Message is safe to show to the client, Err
// carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Auth(reason string, cause error) *Error {
	return &Error{Kind: KindAuth, Message: "Authentication failed: " + reason, Reason: reason, Err: cause}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Permission never carries the reason to the client.
func Permission(cause error) *Error {
	return &Error{Kind: KindPermission, Message: msgPermission, Err: cause}
}

// PermissionMsg is Permission with a caller chosen client message.
func PermissionMsg(msg string) *Error {
	return &Error{Kind: KindPermission, Message: msg}
}

func Persist(cause error) *Error {
	return &Error{Kind: KindPersist, Message: msgPersist, Err: cause}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// FromStore classifies an error returned by a persistence collaborator.
// Deadline and cancellation errors become persist failures like any other
// collaborator error.
func FromStore(err error, notFound error, what string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if notFound != nil && errors.Is(err, notFound) {
		return NotFound(what)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Persist(errors.Wrap(err, "store call timed out"))
	}
	return Persist(err)
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Public returns the message that may be sent to a client for err.
func Public(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return msgInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
