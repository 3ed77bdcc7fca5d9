package dispatch

import "net/http"

// Code is the error taxonomy the Dispatch Engine converts every
// component failure into (§7). Exactly one kind is produced per
// terminal outcome.
type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeUnknownRuntime      Code = "UNKNOWN_RUNTIME"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeCompileFailed       Code = "COMPILE_FAILED"
	CodeRuntimeError        Code = "RUNTIME_ERROR"
	CodeTimeout             Code = "TIMEOUT"
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// httpStatus maps each taxonomy code to the HTTP status named in §7.
var httpStatus = map[Code]int{
	CodeInvalidRequest:      http.StatusBadRequest,
	CodeUnknownRuntime:      http.StatusNotFound,
	CodeSessionNotFound:     http.StatusNotFound,
	CodeCompileFailed:       http.StatusUnprocessableEntity,
	CodeRuntimeError:        http.StatusFailedDependency,
	CodeTimeout:             http.StatusRequestTimeout,
	CodeCircuitOpen:         http.StatusServiceUnavailable,
	CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is the structured error the Dispatch Engine returns for every
// non-2xx terminal outcome. The HTTP Surface (C9) renders it directly
// into the user-visible `{request_id?, error:{code, message, details?}}`
// payload (§7).
type Error struct {
	Code    Code
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// HTTPStatus returns the status code matching e.Code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(code Code, message string, details ...string) *Error {
	e := &Error{Code: code, Message: message}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}
