// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"fmt"
	"time"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/state"
)

// Point identifies a lifecycle point at which handlers are notified.
type Point string

const (
	PreExecute  Point = "pre_execute"
	PostExecute Point = "post_execute"
	SkillStart  Point = "skill_start"
	SkillEnd    Point = "skill_end"
	Error       Point = "error"
	LLMRequest  Point = "llm_request"
)

// Points lists every lifecycle point in the order a run can reach them.
var Points = []Point{PreExecute, SkillStart, LLMRequest, SkillEnd, Error, PostExecute}

// Valid reports whether p is one of the fixed lifecycle points.
func (p Point) Valid() bool {
	switch p {
	case PreExecute, PostExecute, SkillStart, SkillEnd, Error, LLMRequest:
		return true
	}
	return false
}

// ParsePoint converts a configuration string into a Point.
func ParsePoint(s string) (Point, error) {
	p := Point(s)
	if !p.Valid() {
		return "", errors.Configurationf("unknown hook point %q", s).
			WithContext("point", s)
	}
	return p, nil
}

// RunStatus tracks where a run is in its lifecycle.
type RunStatus string

const (
	StatusNotStarted RunStatus = "not_started"
	StatusRunning    RunStatus = "running"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// Request describes an outgoing LLM call, carried on LLMRequest events.
type Request struct {
	Model         string
	Prompt        string
	SystemPrompt  string
	ResponseModel string
	Schema        string
	Options       map[string]any
}

// Event is the payload handed to every handler of a point.
// Skill, Step, InputType and OutputType are only meaningful for
// skill-scoped points. The type fields name the skill's declared contract.
type Event struct {
	Point      Point
	RunID      string
	Agent      string
	Skill      string
	Step       int
	InputType  string
	OutputType string
	Status     RunStatus
	State      state.Any
	Err        error
	Request    *Request
	Time       time.Time
}

// NewEvent builds an event stamped with the current time.
func NewEvent(point Point, runID, agent string) Event {
	return Event{
		Point: point,
		RunID: runID,
		Agent: agent,
		Step:  -1,
		Time:  time.Now().UTC(),
	}
}

// String renders a compact description for logs.
func (e Event) String() string {
	if e.Skill != "" {
		return fmt.Sprintf("%s agent=%s skill=%s step=%d", e.Point, e.Agent, e.Skill, e.Step)
	}
	return fmt.Sprintf("%s agent=%s", e.Point, e.Agent)
}
