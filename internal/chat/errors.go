package chat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-chatsync/internal/database"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindConflict
	KindTimeWindow
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeWindow:
		return "time_window"
	default:
		return "internal"
	}
}

// StatusCode is the HTTP status used for the kind on both the REST API and
// the code field of socket error events.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation, KindTimeWindow:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failure that is reported back to the acting client.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrAuthentication(msg string) *Error { return newError(KindAuthentication, "%s", msg) }

func ErrAuthorization(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

func ErrValidation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func ErrNotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func ErrConflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func ErrTimeWindow(format string, args ...any) *Error {
	return newError(KindTimeWindow, format, args...)
}

func ErrInternal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// Kind classifies any error returned by this package or the store.
func Kind(err error) ErrorKind {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, database.ErrNotFound):
		return KindNotFound
	case errors.Is(err, database.ErrDuplicate):
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage is the text shown to clients for err. Internal failures
// never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}

	switch Kind(err) {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "already exists"
	default:
		return "internal server error"
	}
}

// storeErr converts a store failure, mapping a missing record to a NotFound
// error described by what.
func storeErr(err error, what string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, database.ErrDuplicate):
		return &Error{Kind: KindConflict, Message: what + " already exists", Err: err}
	default:
		return ErrInternal(err)
	}
}
