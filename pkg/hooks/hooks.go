// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package hooks implements the registry of lifecycle handlers an agent
// notifies while it runs.
//
// Handlers for a point run synchronously in registration order and all
// receive the same Event. What happens when one fails is governed by the
// registry's FailurePolicy.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jllopis/waspnest/pkg/errors"
)

// Handler is a side-effecting callback invoked at a lifecycle point.
type Handler func(ctx context.Context, ev Event) error

// FailurePolicy decides what a handler failure does to a notification.
type FailurePolicy string

const (
	// FailLog logs the failure and keeps notifying the remaining handlers.
	FailLog FailurePolicy = "log"
	// FailAbort stops at the first failure and returns it.
	FailAbort FailurePolicy = "abort"
)

// ParseFailurePolicy converts a configuration string into a FailurePolicy.
// An empty string selects FailLog.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailLog:
		return FailLog, nil
	case FailAbort:
		return FailAbort, nil
	}
	return "", errors.Configurationf("unknown hook failure policy %q", s).
		WithContext("policy", s)
}

// Registry maps lifecycle points to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Point][]Handler
	policy   FailurePolicy
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailurePolicy sets the failure policy. The default is FailLog.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithLogger sets the logger used to report handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[Point][]Handler),
		policy:   FailLog,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On appends handler to the list for point.
func (r *Registry) On(point Point, handler Handler) error {
	if !point.Valid() {
		return errors.Configurationf("unknown hook point %q", point).
			WithContext("point", string(point))
	}
	if handler == nil {
		return errors.Configurationf("nil handler for hook point %q", point).
			WithContext("point", string(point))
	}
	r.mu.Lock()
	r.handlers[point] = append(r.handlers[point], handler)
	r.mu.Unlock()
	return nil
}

// OnAll registers handler on every lifecycle point.
func (r *Registry) OnAll(handler Handler) error {
	for _, p := range Points {
		if err := r.On(p, handler); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of handlers registered for point.
func (r *Registry) Len(point Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[point])
}

// Policy returns the registry's failure policy.
func (r *Registry) Policy() FailurePolicy {
	return r.policy
}

// Notify invokes every handler registered for ev.Point. Under FailLog the
// result is always nil; under FailAbort the first failure is returned as a
// HOOK_FAILURE error wrapping the handler's error.
func (r *Registry) Notify(ctx context.Context, ev Event) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	list := r.handlers[ev.Point]
	snapshot := make([]Handler, len(list))
	copy(snapshot, list)
	r.mu.RUnlock()

	for i, h := range snapshot {
		err := invoke(ctx, h, ev)
		if err == nil {
			continue
		}
		if r.policy == FailAbort {
			return errors.New(errors.CodeHookFailure,
				fmt.Sprintf("hook handler %d for %s failed", i, ev.Point), err).
				WithContext("point", string(ev.Point)).
				WithContext("handler", i).
				WithContext("skill", ev.Skill)
		}
		r.logger.WarnContext(ctx, "hook handler failed",
			slog.String("point", string(ev.Point)),
			slog.Int("handler", i),
			slog.String("agent", ev.Agent),
			slog.String("skill", ev.Skill),
			slog.String("run_id", ev.RunID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(ctx, ev)
}
