// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	stderrors "errors"
	"fmt"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/state"
)

// StepError reports which skill failed a run and the state it was given.
// Unwrap yields the skill's error untouched, so errors.As and
// errors.HasCode still see the original TYPE_MISMATCH, UPSTREAM_ERROR or
// VALIDATION_ERROR.
type StepError struct {
	Agent string
	RunID string
	Skill string
	Step  int
	// State is the input the failing skill received.
	State state.Any
	Err   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("agent %s: skill %q (step %d) failed: %v", e.Agent, e.Skill, e.Step, e.Err)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Code returns the code of the wrapped error, or "" if it has none.
func (e *StepError) Code() errors.ErrorCode {
	return errors.CodeOf(e.Err)
}

// AsStepError returns the StepError in err's chain, if any.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsTypeMismatch reports whether err was caused by a skill contract violation.
func IsTypeMismatch(err error) bool {
	return errors.HasCode(err, errors.CodeTypeMismatch)
}

// IsUpstream reports whether err was caused by the LLM collaborator.
func IsUpstream(err error) bool {
	return errors.HasCode(err, errors.CodeUpstream)
}

// IsValidation reports whether err was caused by a payload failing its schema.
func IsValidation(err error) bool {
	return errors.HasCode(err, errors.CodeValidation)
}
