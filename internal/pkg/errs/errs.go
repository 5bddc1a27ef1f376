package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"relaychat/internal/pkg/logx"
)

// CustomError is an application error with a stable code and a message safe to
// show to the client.
type CustomError struct {
	// Code is one of the constants in this package.
	Code int

	// Message is the user-facing text.
	Message string

	// Status is the HTTP status used when the error is returned over HTTP.
	Status int
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var other *CustomError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewError builds a CustomError from the template registered for code.
// Details fill the message verbs; unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	tmpl, ok := errorMap[code]
	if !ok {
		logx.Warn("unknown error code requested", "requested_code", code)
		tmpl = errorMap[ErrUnknown]
	}

	out := tmpl
	if out.Status == 0 {
		out.Status = http.StatusOK
	}

	if len(details) > 0 && strings.Contains(out.Message, "%") {
		out.Message = fmt.Sprintf(out.Message, details...)
	}

	return &out
}
