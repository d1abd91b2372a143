// Package errors provides structured error handling for huginn operations.
// It defines error codes, error types, and utilities for creating and
// inspecting errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool { return stderrors.As(err, target) }

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Target and probe errors.
	CodeTargetInvalid  ErrorCode = "TARGET_INVALID"
	CodeUnknownProbe   ErrorCode = "UNKNOWN_PROBE"
	CodeDuplicateProbe ErrorCode = "DUPLICATE_PROBE"
	CodeProbeConfig    ErrorCode = "PROBE_CONFIG"
	CodeProbeFailed    ErrorCode = "PROBE_FAILED"

	// Network errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeConnectionReset    ErrorCode = "CONNECTION_RESET"
	CodeDNSTimeout         ErrorCode = "DNS_TIMEOUT"
	CodeDNSFailure         ErrorCode = "DNS_FAILURE"

	// System errors.
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
)

// ProbeError represents an error that occurred while preparing or running a probe.
type ProbeError struct {
	Code      ErrorCode
	Message   string
	Target    string
	ProbeType string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ProbeError) WithContext(key string, value interface{}) *ProbeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewProbeError creates a new probe error with the specified code and message.
func NewProbeError(code ErrorCode, message string) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewProbeErrorWithTarget creates a probe error for a specific target.
func NewProbeErrorWithTarget(code ErrorCode, message, target string) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapProbeError wraps an existing error as a probe error.
func WrapProbeError(code ErrorCode, message string, err error) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapProbeErrorWithTarget wraps an error with target information.
func WrapProbeErrorWithTarget(code ErrorCode, message, target string, err error) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// TargetError represents target expansion and resolution errors.
type TargetError struct {
	Code    ErrorCode
	Message string
	Input   string
	Cause   error
}

// Error implements the error interface.
func (e *TargetError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("[%s] %s (input: %s)", e.Code, e.Message, e.Input)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *TargetError) Unwrap() error {
	return e.Cause
}

// NewTargetError creates a new target error for a specific input element.
func NewTargetError(code ErrorCode, message, input string) *TargetError {
	return &TargetError{
		Code:    code,
		Message: message,
		Input:   input,
	}
}

// WrapTargetError wraps an existing error as a target error.
func WrapTargetError(code ErrorCode, message, input string, err error) *TargetError {
	return &TargetError{
		Code:    code,
		Message: message,
		Input:   input,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ProbeError:
		return e.Code
	case *TargetError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a transient network condition
// worth retrying. Only network-layer transients qualify; classification
// results (refused, filtered) are terminal states, not errors.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeConnectionReset, CodeDNSTimeout, CodeNetworkUnreachable:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a condition that should abort
// the entire run rather than a single probe request.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for an invalid target specification.
func ErrInvalidTarget(input string) *TargetError {
	return NewTargetError(CodeTargetInvalid, "invalid target specification", input)
}

// ErrUnknownProbe creates an error for an unregistered probe type.
func ErrUnknownProbe(probeType string) *ProbeError {
	return NewProbeError(CodeUnknownProbe, fmt.Sprintf("unknown probe type: %s", probeType))
}

// ErrDuplicateProbe creates an error for a duplicate probe registration.
func ErrDuplicateProbe(probeType string) *ProbeError {
	return NewProbeError(CodeDuplicateProbe, fmt.Sprintf("probe type already registered: %s", probeType))
}

// ErrProbeConfig creates an error for an invalid per-probe configuration.
func ErrProbeConfig(message string) *ProbeError {
	return NewProbeError(CodeProbeConfig, message)
}

// ErrPermissionDenied creates an error for insufficient privileges.
func ErrPermissionDenied(probeType string) *ProbeError {
	e := NewProbeError(CodePermission, "insufficient privileges for probe")
	e.ProbeType = probeType
	return e
}
