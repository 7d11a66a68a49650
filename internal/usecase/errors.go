package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error is the failure result of the webhook pipeline. Message is the text
// returned to the caller in the error body. Status is only set for
// ErrorUpstream and carries the upstream HTTP status.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, message string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Err: err}
}

func newUpstreamError(status int, message string, err error) *Error {
	return &Error{Code: ErrorUpstream, Reason: "gemini_status", Message: message, Status: status, Err: err}
}
