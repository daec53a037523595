// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"reflect"

	"github.com/jllopis/waspnest/pkg/schema"
)

// Any is the type-erased form of a State, used where skills with different
// payload types are chained. It carries the same immutability guarantees.
type Any struct {
	data any
	ctx  map[string]any
}

// Erase builds an Any directly from an untyped payload after validating it.
func Erase(data any, ctx map[string]any) (Any, error) {
	if err := schema.Validate(data); err != nil {
		return Any{}, err
	}
	return Any{data: data, ctx: cloneContext(ctx)}, nil
}

// Data returns the untyped payload.
func (s Any) Data() any { return s.data }

// Type returns the dynamic type of the payload, or nil if the state is empty.
func (s Any) Type() reflect.Type { return reflect.TypeOf(s.data) }

// IsZero reports whether s carries no payload.
func (s Any) IsZero() bool { return s.data == nil }

// Context returns a copy of the context mapping.
func (s Any) Context() map[string]any { return cloneContext(s.ctx) }

// Value returns a single context value.
func (s Any) Value(key string) (any, bool) {
	v, ok := s.ctx[key]
	return v, ok
}

// WithContext returns a new Any whose context is merged with updates.
func (s Any) WithContext(updates map[string]any) Any {
	return Any{data: s.data, ctx: mergeContext(s.ctx, updates)}
}

// With returns a new Any with a single context key set.
func (s Any) With(key string, value any) Any {
	return s.WithContext(map[string]any{key: value})
}

// As recovers a typed State from s. It reports false when the payload is not
// assignable to T.
func As[T any](s Any) (State[T], bool) {
	data, ok := s.data.(T)
	if !ok {
		return State[T]{}, false
	}
	return State[T]{data: data, ctx: s.ctx}, true
}

// Equal reports whether a and b carry equal payloads and equal contexts.
func Equal(a, b Any) bool {
	if a.Type() != b.Type() {
		return false
	}
	if !reflect.DeepEqual(a.data, b.data) {
		return false
	}
	if len(a.ctx) != len(b.ctx) {
		return false
	}
	for k, av := range a.ctx {
		bv, ok := b.ctx[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
