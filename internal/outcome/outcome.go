package outcome

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Code string

const (
	Success               Code = "Success"
	Unauthorized          Code = "Unauthorized"
	InvalidRequest        Code = "InvalidRequest"
	NotFound              Code = "NotFound"
	InvalidTransition     Code = "InvalidTransition"
	InvalidStatus         Code = "InvalidStatus"
	NotPaid               Code = "NotPaid"
	AlreadyUnmarked       Code = "AlreadyUnmarked"
	InsufficientInventory Code = "InsufficientInventory"
	CrossTenantConflict   Code = "CrossTenantConflict"
	InternalError         Code = "InternalError"
)

// HTTPStatus маппинг кода на HTTP статус для gateway.
func (c Code) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case CrossTenantConflict:
		return http.StatusForbidden
	case InvalidTransition, InvalidStatus, NotPaid, AlreadyUnmarked, InsufficientInventory:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed failure of a core operation. Anything that is not an *Error is
// reported to callers as InternalError.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	s := string(e.Code)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a storage or transport failure. The cause is kept for logs only.
func Internal(err error) *Error {
	return &Error{Code: InternalError, Message: "internal error", cause: err}
}

func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Result is the envelope every operation returns to its transport.
type Result struct {
	OK      bool   `json:"ok"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(data any) Result {
	return Result{OK: true, Code: Success, Message: "ok", Data: data}
}

// FromError builds a failure envelope. Raw error text of internal failures never
// leaves the process.
func FromError(err error) Result {
	if err == nil {
		return OK(nil)
	}
	var e *Error
	if errors.As(err, &e) && e.Code != InternalError {
		return Result{Code: e.Code, Message: e.Message}
	}
	return Result{Code: InternalError, Message: "internal error"}
}
