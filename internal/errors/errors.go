package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code identifies a gateway failure class in a machine-readable way.
type Code string

const (
	CodeToolNotFound       Code = "tool_not_found"
	CodeInvalidParameters  Code = "invalid_parameters"
	CodeRateLimitExceeded  Code = "rate_limit_exceeded"
	CodeToolTimeout        Code = "tool_timeout"
	CodeToolExecutionError Code = "tool_execution_error"
	CodeSessionError       Code = "session_error"
	CodeConfigurationError Code = "configuration_error"
	CodeNotFound           Code = "not_found"
	CodeTimeout            Code = "timeout"
)

// GatewayError is the common error family crossing the gateway boundary.
// Every failure carries a code and a details bag rather than a bare string.
type GatewayError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Detail returns a single entry from the details bag.
func (e *GatewayError) Detail(key string) (any, bool) {
	if e == nil || e.Details == nil {
		return nil, false
	}
	val, ok := e.Details[key]
	return val, ok
}

// As extracts a GatewayError from an error chain.
func As(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// HasCode reports whether err is a GatewayError with the given code.
func HasCode(err error, code Code) bool {
	gwErr, ok := As(err)
	return ok && gwErr.Code == code
}

// NewToolNotFound reports a catalog miss for the named tool.
func NewToolNotFound(name string) *GatewayError {
	return &GatewayError{
		Code:    CodeToolNotFound,
		Message: fmt.Sprintf("tool not found: %s", name),
		Details: map[string]any{"tool": name},
	}
}

// NewInvalidParameters reports validation failure before dispatch. The
// missing and invalid slices enumerate offending parameter names.
func NewInvalidParameters(tool string, missing, invalid []string) *GatewayError {
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid: %s", strings.Join(invalid, ", ")))
	}
	return &GatewayError{
		Code:    CodeInvalidParameters,
		Message: fmt.Sprintf("invalid parameters for %s (%s)", tool, strings.Join(parts, "; ")),
		Details: map[string]any{
			"tool":    tool,
			"missing": missing,
			"invalid": invalid,
		},
	}
}

// NewRateLimitExceeded reports a sliding-window quota rejection.
func NewRateLimitExceeded(tool, caller string, retryAfter time.Duration) *GatewayError {
	return &GatewayError{
		Code:    CodeRateLimitExceeded,
		Message: fmt.Sprintf("rate limit exceeded for %s, retry after %s", tool, retryAfter),
		Details: map[string]any{
			"tool":                tool,
			"caller":              caller,
			"retry_after_seconds": retryAfter.Seconds(),
		},
	}
}

// RetryAfter returns the retry-after hint carried by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	gwErr, ok := As(err)
	if !ok || gwErr.Code != CodeRateLimitExceeded {
		return 0, false
	}
	seconds, ok := gwErr.Details["retry_after_seconds"].(float64)
	if !ok {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// NewToolTimeout reports that a handler exceeded its wall-clock budget.
func NewToolTimeout(tool string, timeout time.Duration) *GatewayError {
	return &GatewayError{
		Code:    CodeToolTimeout,
		Message: fmt.Sprintf("tool %s timed out after %s", tool, timeout),
		Details: map[string]any{
			"tool":            tool,
			"timeout_seconds": timeout.Seconds(),
		},
	}
}

// NewToolExecutionError wraps a handler failure with its underlying type name.
func NewToolExecutionError(tool string, underlying error) *GatewayError {
	return &GatewayError{
		Code:    CodeToolExecutionError,
		Message: fmt.Sprintf("tool %s failed", tool),
		Details: map[string]any{
			"tool":            tool,
			"underlying_type": fmt.Sprintf("%T", underlying),
		},
		Err: underlying,
	}
}

// NewSessionError reports a session tracking failure.
func NewSessionError(sessionID string, underlying error) *GatewayError {
	return &GatewayError{
		Code:    CodeSessionError,
		Message: fmt.Sprintf("session error for %s", sessionID),
		Details: map[string]any{"session_id": sessionID},
		Err:     underlying,
	}
}

// NewConfigurationError reports an invalid configuration value.
func NewConfigurationError(field string, underlying error) *GatewayError {
	return &GatewayError{
		Code:    CodeConfigurationError,
		Message: fmt.Sprintf("invalid configuration: %s", field),
		Details: map[string]any{"field": field},
		Err:     underlying,
	}
}

// NewHandleNotFound reports an unknown fire-and-forget handle.
func NewHandleNotFound(requestID string) *GatewayError {
	return &GatewayError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("unknown request handle: %s", requestID),
		Details: map[string]any{"request_id": requestID},
	}
}

// NewAwaitTimeout reports that an async result did not arrive in time.
func NewAwaitTimeout(requestID string, timeout time.Duration) *GatewayError {
	return &GatewayError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("result for %s not ready after %s", requestID, timeout),
		Details: map[string]any{
			"request_id":      requestID,
			"timeout_seconds": timeout.Seconds(),
		},
	}
}
