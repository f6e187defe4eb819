package usecase

import "fmt"

type ErrorCode string

const (
	// ErrorConfig marks a missing credential or parameter. Fatal, no retry.
	ErrorConfig ErrorCode = "CONFIG_ERROR"
	// ErrorInvalidInput marks user-correctable input problems (no frames,
	// missing analysis id, empty message).
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorRateLimited marks a local rate-governor rejection or an upstream 429.
	ErrorRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorUpstream marks external-model failures; retryable by the caller.
	ErrorUpstream ErrorCode = "UPSTREAM_ERROR"
	// ErrorToolIterations marks a chat loop that never produced a final
	// answer within the iteration budget.
	ErrorToolIterations ErrorCode = "TOOL_ITERATIONS_EXCEEDED"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// httpStatusCoder is satisfied by openai.HTTPStatusError.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// UserFacingMessage maps an upstream failure onto the message shown to the
// golfer, distinguishing rate-limit and payload-too-large from generic
// unavailability.
func UserFacingMessage(status int) string {
	switch status {
	case 429:
		return "The coaching service is busy right now. Please try again in a minute."
	case 413:
		return "Your swing frames were too large to analyze. Please try a shorter video."
	default:
		return "The coaching service is temporarily unavailable. Please try again."
	}
}
