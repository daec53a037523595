// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package state defines the immutable container that flows between skills.
//
// A State pairs a typed payload with an opaque context mapping (trace ids,
// user ids, ...). States are values: every update returns a new State and the
// context map is copied on the way in and on the way out, so no caller can
// change a State it did not create.
package state

import (
	"maps"
	"reflect"

	"github.com/jllopis/waspnest/pkg/schema"
)

// State is an immutable typed payload plus auxiliary context.
type State[T any] struct {
	data T
	ctx  map[string]any
}

// New creates a State after validating data against its schema.
// The context map is copied; a nil map yields an empty context.
func New[T any](data T, ctx map[string]any) (State[T], error) {
	if err := schema.Validate(data); err != nil {
		return State[T]{}, err
	}
	return State[T]{data: data, ctx: cloneContext(ctx)}, nil
}

// Must is like New but panics if data fails validation.
func Must[T any](data T, ctx map[string]any) State[T] {
	s, err := New(data, ctx)
	if err != nil {
		panic(err)
	}
	return s
}

// Data returns the typed payload.
func (s State[T]) Data() T { return s.data }

// Context returns a copy of the context mapping.
func (s State[T]) Context() map[string]any { return cloneContext(s.ctx) }

// Value returns a single context value.
func (s State[T]) Value(key string) (any, bool) {
	v, ok := s.ctx[key]
	return v, ok
}

// WithContext returns a new State whose context is the receiver's merged
// with updates. Keys in updates win.
func (s State[T]) WithContext(updates map[string]any) State[T] {
	return State[T]{data: s.data, ctx: mergeContext(s.ctx, updates)}
}

// With returns a new State with a single context key set.
func (s State[T]) With(key string, value any) State[T] {
	return s.WithContext(map[string]any{key: value})
}

// Erase returns the type-erased view of s.
func (s State[T]) Erase() Any {
	return Any{data: s.data, ctx: s.ctx}
}

func cloneContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return maps.Clone(ctx)
}

func mergeContext(base, updates map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(updates))
	maps.Copy(out, base)
	maps.Copy(out, updates)
	return out
}

// Matches reports whether payload satisfies the declared type t.
//
// Concrete declared types require the exact same nominal type; named types
// with identical fields do not match each other. Interface declared types
// accept any payload whose dynamic type implements the interface. A nil
// payload never matches.
func Matches(t reflect.Type, payload any) bool {
	if t == nil || payload == nil {
		return false
	}
	pt := reflect.TypeOf(payload)
	if t.Kind() == reflect.Interface {
		return pt.Implements(t)
	}
	return pt == t
}
