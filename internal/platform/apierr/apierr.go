package apierr

import (
	"errors"
	"fmt"
	"net/http"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps a use-case error onto an HTTP status and a stable code.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	code := domainagg.CodeOf(err)
	switch code {
	case domainagg.CodeValidation:
		return New(http.StatusBadRequest, string(code), err)
	case domainagg.CodeNotFound:
		return New(http.StatusNotFound, string(code), err)
	case domainagg.CodeUnauthorized:
		return New(http.StatusForbidden, string(code), err)
	case domainagg.CodeQuotaExceeded:
		return New(http.StatusTooManyRequests, string(code), err)
	case domainagg.CodeInvalidState, domainagg.CodeConflict:
		return New(http.StatusConflict, string(code), err)
	case domainagg.CodeProvider:
		return New(http.StatusBadGateway, string(code), err)
	case domainagg.CodeRetryable:
		return New(http.StatusServiceUnavailable, string(code), err)
	default:
		return New(http.StatusInternalServerError, string(domainagg.CodeInternal), err)
	}
}
