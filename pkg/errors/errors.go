// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy shared by states, skills,
// hooks and agents.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies waspnest errors for callers and observability.
type ErrorCode string

const (
	// CodeValidation indicates a payload does not conform to its schema.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeTypeMismatch indicates a skill received or produced a payload of
	// a type other than the one it declares.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeUpstream indicates the LLM collaborator failed.
	CodeUpstream ErrorCode = "UPSTREAM_ERROR"

	// CodeConfiguration indicates invalid construction-time input.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeHookFailure indicates a hook handler failed under the abort policy.
	CodeHookFailure ErrorCode = "HOOK_FAILURE"

	// CodeTimeout indicates a caller-imposed deadline was exceeded.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an unclassified error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Direction values used by type mismatch errors.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code       ErrorCode
	Message    string
	Err        error
	Context    map[string]any
	Attributes map[string]string
	// Recoverable reports whether retrying the same call may succeed.
	// The core never retries; the flag is advisory for callers.
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and audit.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string            `json:"code"`
		Message     string            `json:"message"`
		Err         string            `json:"error,omitempty"`
		Context     map[string]any    `json:"context,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		Recoverable bool              `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// AsError returns the first *Error in err's chain, or wraps err as an
// internal error when there is none.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if stderrors.As(err, &we) {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var we *Error
	if stderrors.As(err, &we) {
		return we.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if we, ok := err.(*Error); ok && we.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// TypeMismatch builds the error raised when a skill payload type disagrees
// with its declaration.
func TypeMismatch(skill, direction, expected, actual string) *Error {
	return New(CodeTypeMismatch,
		fmt.Sprintf("skill %q: expected %s type %s, got %s", skill, direction, expected, actual), nil).
		WithContext("skill", skill).
		WithContext("direction", direction).
		WithContext("expected", expected).
		WithContext("actual", actual).
		WithAttribute("waspnest.skill.name", skill)
}

// Validation wraps a schema validation failure.
func Validation(msg string, cause error) *Error {
	return New(CodeValidation, msg, cause)
}

// Upstream wraps a failure of the LLM collaborator.
func Upstream(msg string, cause error) *Error {
	return New(CodeUpstream, msg, cause).WithRecoverable(true)
}

// Configuration reports invalid construction-time input.
func Configuration(msg string) *Error {
	return New(CodeConfiguration, msg, nil)
}

// Configurationf is Configuration with a format string.
func Configurationf(format string, args ...any) *Error {
	return New(CodeConfiguration, fmt.Sprintf(format, args...), nil)
}
