package session

import "errors"

// User-facing precondition failures. Anything else is unexpected.
var (
	// ErrNotConfigured covers both a missing configuration and one whose
	// trace file path is not absolute.
	ErrNotConfigured  = errors.New("tracing is not configured")
	ErrAlreadyStarted = errors.New("tracing has already been started")
	ErrNotStarted     = errors.New("tracing has not been started")
)

// Result is the tri-state outcome of an operation.
type Result int

const (
	ResultSuccess    Result = 0
	ResultHandled    Result = -1 // expected user error, message already meaningful
	ResultUnexpected Result = 1
)

// String returns the result name used in logs and audit events.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultHandled:
		return "handled"
	default:
		return "unexpected"
	}
}

// Classify maps an operation error onto a Result.
func Classify(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrAlreadyStarted),
		errors.Is(err, ErrNotStarted):
		return ResultHandled
	default:
		return ResultUnexpected
	}
}
