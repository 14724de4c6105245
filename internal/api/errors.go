package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/chat"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newStatusError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newStatusError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newStatusError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newStatusError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newStatusError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newStatusError(http.StatusForbidden)
}

// NewChatError converts an error returned by the chat service. The message
// of an internal error never reaches the client.
func NewChatError(err error) *ApiError {
	kind := chat.Kind(err)
	return &ApiError{
		StatusCode: kind.StatusCode(),
		Message:    chat.PublicMessage(err),
		Err:        err,
	}
}
