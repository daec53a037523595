// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/waspnest/pkg/errors"
)

// CLIError wraps a failed command with CLI-specific formatting and hints.
type CLIError struct {
	Err  error
	Code errors.ErrorCode
	Hint string
}

// NewCLIError creates a new CLI error. Errors without a code are reported as
// internal.
func NewCLIError(err error, hint string) *CLIError {
	return &CLIError{Err: err, Code: errors.AsError(err).Code, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped error.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// PrintError prints the error to stderr.
func (e *CLIError) PrintError(asJSON bool) {
	e.write(os.Stderr, asJSON)
}

func (e *CLIError) write(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    e.Code,
			"message": e.Err.Error(),
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(e.Code), e.Err.Error())
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// WrapConfigError wraps a configuration loading failure.
func WrapConfigError(err error) *CLIError {
	return NewCLIError(err, "check the file passed with --config and any WASPNEST_* variables")
}

// WrapRunError attaches a hint matching the failure's code.
func WrapRunError(err error) *CLIError {
	var hint string
	switch errors.CodeOf(err) {
	case errors.CodeUpstream:
		hint = "check llm.provider, llm.model and llm.api_key; the provider rejected or failed the request"
	case errors.CodeTimeout:
		hint = "increase llm.timeout or the --timeout flag"
	case errors.CodeTypeMismatch:
		hint = "adjacent skills disagree on their payload types"
	case errors.CodeValidation:
		hint = "the model reply did not match the expected JSON schema"
	case errors.CodeHookFailure:
		hint = "a hook handler failed under hooks.failure_policy=abort"
	case errors.CodeConfiguration:
		hint = "check the skills directory and configuration"
	}
	return NewCLIError(err, hint)
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeValidation:
		return "Validation"
	case errors.CodeTypeMismatch:
		return "Type Mismatch"
	case errors.CodeUpstream:
		return "LLM Error"
	case errors.CodeConfiguration:
		return "Configuration"
	case errors.CodeHookFailure:
		return "Hook Failure"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeInternal:
		return "Internal Error"
	default:
		return string(code)
	}
}
