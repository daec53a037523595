// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package skill defines typed state transformers and the contract that
// guards them.
//
// A skill declares an input and an output payload type. Every execution is
// wrapped so the input is checked before the skill's logic runs and the
// output is checked before anyone else sees it; a mismatch either way is a
// TYPE_MISMATCH error.
package skill

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/llm"
	"github.com/jllopis/waspnest/pkg/schema"
	"github.com/jllopis/waspnest/pkg/state"
)

// Skill is the type-erased contract an agent drives.
type Skill interface {
	Name() string
	InputType() reflect.Type
	OutputType() reflect.Type
	Execute(ctx context.Context, env *Env, in state.Any) (state.Any, error)
}

// Env is the per-run environment an agent lends to a skill. It gives the
// skill access to the LLM collaborator and the hook registry without the
// skill holding a reference to the agent.
type Env struct {
	Client llm.Provider
	Model  string
	Hooks  *hooks.Registry
	Logger *slog.Logger
	RunID  string
	Agent  string
	Skill  string
	Step   int
}

func (e *Env) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Func is the typed logic of a skill.
type Func[In, Out any] func(ctx context.Context, env *Env, in state.State[In]) (state.State[Out], error)

// AnyFunc is the untyped logic of a skill built with Declare.
type AnyFunc func(ctx context.Context, env *Env, in state.Any) (state.Any, error)

type contract struct {
	name string
	in   reflect.Type
	out  reflect.Type
	run  AnyFunc
}

// New declares a skill from typed logic. An empty name defaults to
// "<In>-><Out>" built from the declared type names.
func New[In, Out any](name string, fn Func[In, Out]) Skill {
	in, out := reflect.TypeFor[In](), reflect.TypeFor[Out]()
	return &contract{
		name: defaultName(name, in, out),
		in:   in,
		out:  out,
		run: func(ctx context.Context, env *Env, s state.Any) (state.Any, error) {
			typed, ok := state.As[In](s)
			if !ok {
				return state.Any{}, mismatch(defaultName(name, in, out), errors.DirectionInput, in, s.Type())
			}
			res, err := fn(ctx, env, typed)
			if err != nil {
				return state.Any{}, err
			}
			return res.Erase(), nil
		},
	}
}

// Declare builds a skill from explicit runtime types and untyped logic. It is
// meant for dynamic construction; the contract checks still apply on every
// call.
func Declare(name string, in, out reflect.Type, fn AnyFunc) (Skill, error) {
	if in == nil || out == nil {
		return nil, errors.Configuration("skill declaration requires input and output types").
			WithContext("skill", name)
	}
	if fn == nil {
		return nil, errors.Configurationf("skill %q has no logic", name).
			WithContext("skill", name)
	}
	return &contract{name: defaultName(name, in, out), in: in, out: out, run: fn}, nil
}

// MustDeclare is like Declare but panics on error.
func MustDeclare(name string, in, out reflect.Type, fn AnyFunc) Skill {
	s, err := Declare(name, in, out, fn)
	if err != nil {
		panic(err)
	}
	return s
}

func (c *contract) Name() string             { return c.name }
func (c *contract) InputType() reflect.Type  { return c.in }
func (c *contract) OutputType() reflect.Type { return c.out }

// Execute checks the input type, runs the logic and checks the output type.
func (c *contract) Execute(ctx context.Context, env *Env, in state.Any) (state.Any, error) {
	if !state.Matches(c.in, in.Data()) {
		return state.Any{}, mismatch(c.name, errors.DirectionInput, c.in, in.Type())
	}
	out, err := c.run(ctx, env, in)
	if err != nil {
		return state.Any{}, err
	}
	if !state.Matches(c.out, out.Data()) {
		env.logger().DebugContext(ctx, "skill produced unexpected output type",
			slog.String("skill", c.name),
			slog.String("expected", schema.TypeName(c.out)),
			slog.String("actual", schema.TypeName(out.Type())),
		)
		return state.Any{}, mismatch(c.name, errors.DirectionOutput, c.out, out.Type())
	}
	return out, nil
}

func (c *contract) String() string {
	return fmt.Sprintf("%s(%s -> %s)", c.name, schema.TypeName(c.in), schema.TypeName(c.out))
}

// CanHandle reports whether s accepts st as input.
func CanHandle(s Skill, st state.Any) bool {
	return state.Matches(s.InputType(), st.Data())
}

func mismatch(name, direction string, expected, actual reflect.Type) error {
	return errors.TypeMismatch(name, direction, schema.TypeName(expected), schema.TypeName(actual))
}

func defaultName(name string, in, out reflect.Type) string {
	if name != "" {
		return name
	}
	return shortName(in) + "->" + shortName(out)
}

func shortName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
