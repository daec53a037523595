// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"sync"

	"github.com/jllopis/waspnest/pkg/hooks"
)

// Step is one recorded notification: the point and, for skill-scoped
// points, the skill name.
type Step struct {
	Point hooks.Point
	Skill string
}

// String renders the step as "point" or "point:skill".
func (s Step) String() string {
	if s.Skill == "" {
		return string(s.Point)
	}
	return string(s.Point) + ":" + s.Skill
}

// HookRecorder collects every event notified on the registries it is
// attached to.
type HookRecorder struct {
	mu     sync.RWMutex
	events []hooks.Event
}

// NewHookRecorder creates an empty recorder.
func NewHookRecorder() *HookRecorder {
	return &HookRecorder{
		events: make([]hooks.Event, 0),
	}
}

// Attach registers the recorder on every lifecycle point of reg.
func (r *HookRecorder) Attach(reg *hooks.Registry) error {
	return reg.OnAll(r.Handle)
}

// Handle records ev. It can be registered directly as a hooks.Handler.
func (r *HookRecorder) Handle(_ context.Context, ev hooks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns all collected events.
func (r *HookRecorder) Events() []hooks.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]hooks.Event, len(r.events))
	copy(result, r.events)
	return result
}

// Points returns the point of every collected event in order.
func (r *HookRecorder) Points() []hooks.Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	points := make([]hooks.Point, len(r.events))
	for i, ev := range r.events {
		points[i] = ev.Point
	}
	return points
}

// Sequence returns the collected events as steps. LLMRequest events are
// left out unless withLLM is set, so sequences stay comparable across
// skills that do or do not ask.
func (r *HookRecorder) Sequence(withLLM bool) []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps := make([]Step, 0, len(r.events))
	for _, ev := range r.events {
		if ev.Point == hooks.LLMRequest && !withLLM {
			continue
		}
		steps = append(steps, Step{Point: ev.Point, Skill: ev.Skill})
	}
	return steps
}

// Has reports whether an event for point (and skill, when non-empty) was
// collected.
func (r *HookRecorder) Has(point hooks.Point, skill string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range r.events {
		if ev.Point == point && (skill == "" || ev.Skill == skill) {
			return true
		}
	}
	return false
}

// Count returns the number of collected events.
func (r *HookRecorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Reset clears all collected events.
func (r *HookRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = r.events[:0]
}
