// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing waspnest agents.
//
// This package includes:
//   - Scenario definitions for declarative agent runs
//   - A scripted LLM provider with request capture
//   - A hook recorder for verifying lifecycle order
//
// Example usage:
//
//	scenario := testing.NewScenario("echo").
//	    WithInput(state.Must(Query{Query: "ping"}, nil).Erase()).
//	    ExpectNoError().
//	    ExpectSequence(
//	        testing.Step{Point: hooks.PreExecute},
//	        testing.Step{Point: hooks.SkillStart, Skill: "Echo"},
//	        testing.Step{Point: hooks.SkillEnd, Skill: "Echo"},
//	        testing.Step{Point: hooks.PostExecute},
//	    )
//
//	result := scenario.Run(t, agent)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/jllopis/waspnest/pkg/agent"
	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/state"
)

// Scenario defines a single agent run and what it should produce.
type Scenario struct {
	name         string
	input        state.Any
	runContext   map[string]any
	context      context.Context
	timeout      time.Duration
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Output   state.Any
	Error    error
	Sequence []Step
	Duration time.Duration
}

// NewScenario creates a new scenario.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		context: context.Background(),
		timeout: 30 * time.Second,
	}
}

// WithInput sets the initial state.
func (s *Scenario) WithInput(in state.Any) *Scenario {
	s.input = in
	return s
}

// WithRunContext merges values into the run's initial context.
func (s *Scenario) WithRunContext(values map[string]any) *Scenario {
	s.runContext = values
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds a custom expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectNoError expects the run to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectErrorCode expects the run to fail with code somewhere in the chain.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorCodeExpectation{code: code})
}

// ExpectSequence expects exactly this hook sequence, LLMRequest excluded.
func (s *Scenario) ExpectSequence(steps ...Step) *Scenario {
	return s.Expect(&sequenceExpectation{steps: steps})
}

// ExpectNoStep expects no notification for step.
func (s *Scenario) ExpectNoStep(step Step) *Scenario {
	return s.Expect(&noStepExpectation{step: step})
}

// ExpectOutput runs check against the final state.
func (s *Scenario) ExpectOutput(desc string, check func(state.Any) error) *Scenario {
	return s.Expect(&outputExpectation{desc: desc, check: check})
}

// Run executes the scenario against a. A fresh HookRecorder is attached to
// the agent's registry for the run.
func (s *Scenario) Run(t *testing.T, a *agent.Agent) *ScenarioResult {
	t.Helper()

	rec := NewHookRecorder()
	if err := rec.Attach(a.Hooks()); err != nil {
		t.Fatalf("scenario %q: attach recorder: %v", s.name, err)
	}

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	var opts []agent.RunOption
	if len(s.runContext) > 0 {
		opts = append(opts, agent.WithRunContext(s.runContext))
	}

	start := time.Now()
	out, err := a.Execute(ctx, s.input, opts...)
	duration := time.Since(start)

	return &ScenarioResult{
		Output:   out,
		Error:    err,
		Sequence: rec.Sequence(false),
		Duration: duration,
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("expectation %q failed: %v", exp.Description(), err)
		}
	}
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("unexpected error: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorCodeExpectation struct {
	code errors.ErrorCode
}

func (e *errorCodeExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error with code %s, got none", e.code)
	}
	if !errors.HasCode(r.Error, e.code) {
		return fmt.Errorf("expected code %s, got %v", e.code, r.Error)
	}
	return nil
}

func (e *errorCodeExpectation) Description() string {
	return fmt.Sprintf("error code %s", e.code)
}

type sequenceExpectation struct {
	steps []Step
}

func (e *sequenceExpectation) Check(r *ScenarioResult) error {
	if !slices.Equal(r.Sequence, e.steps) {
		return fmt.Errorf("got %v, want %v", r.Sequence, e.steps)
	}
	return nil
}

func (e *sequenceExpectation) Description() string {
	return fmt.Sprintf("hook sequence %v", e.steps)
}

type noStepExpectation struct {
	step Step
}

func (e *noStepExpectation) Check(r *ScenarioResult) error {
	if slices.Contains(r.Sequence, e.step) {
		return fmt.Errorf("unexpected %s in %v", e.step, r.Sequence)
	}
	return nil
}

func (e *noStepExpectation) Description() string {
	return fmt.Sprintf("no %s", e.step)
}

type outputExpectation struct {
	desc  string
	check func(state.Any) error
}

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("run failed: %v", r.Error)
	}
	return e.check(r.Output)
}

func (e *outputExpectation) Description() string {
	return e.desc
}
