// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs an ordered list of skills over a state and notifies
// lifecycle hooks along the way.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/llm"
	"github.com/jllopis/waspnest/pkg/schema"
	"github.com/jllopis/waspnest/pkg/skill"
	"github.com/jllopis/waspnest/pkg/state"
	"github.com/jllopis/waspnest/pkg/telemetry"
)

// DefaultName is the agent name used when WithName is not given.
const DefaultName = "agent"

// Context keys written by WithStepContext.
const (
	ContextLastSkill = "waspnest.last_skill"
	ContextSteps     = "waspnest.steps"
)

// Agent executes its skills in declaration order. It holds no per-run state
// and can serve concurrent Execute calls.
type Agent struct {
	name        string
	model       string
	skills      []skill.Skill
	client      llm.Provider
	hooks       *hooks.Registry
	logger      *slog.Logger
	tracer      trace.Tracer
	stepContext bool
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent over skills that asks client when a skill needs the LLM.
func New(skills []skill.Skill, client llm.Provider, opts ...Option) (*Agent, error) {
	if len(skills) == 0 {
		return nil, errors.Configuration("agent requires at least one skill")
	}
	for i, s := range skills {
		if s == nil {
			return nil, errors.Configurationf("skill at position %d is nil", i).
				WithContext("step", i)
		}
	}
	if client == nil {
		return nil, errors.Configuration("agent requires an llm client")
	}

	a := &Agent{
		name:   DefaultName,
		model:  llm.DefaultModel,
		skills: append([]skill.Skill(nil), skills...),
		client: client,
		logger: slog.Default(),
		tracer: otel.Tracer("waspnest/agent"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.hooks == nil {
		a.hooks = hooks.NewRegistry(hooks.WithLogger(a.logger))
	}
	return a, nil
}

// WithName sets the agent name reported on events and spans.
func WithName(name string) Option {
	return func(a *Agent) error {
		if name == "" {
			return errors.Configuration("agent name must not be empty")
		}
		a.name = name
		return nil
	}
}

// WithModel sets the default model skills ask with.
func WithModel(model string) Option {
	return func(a *Agent) error {
		if model == "" {
			return errors.Configuration("agent model must not be empty")
		}
		a.model = model
		return nil
	}
}

// WithHooks shares an existing registry instead of creating one.
func WithHooks(reg *hooks.Registry) Option {
	return func(a *Agent) error {
		if reg == nil {
			return errors.Configuration("hook registry must not be nil")
		}
		a.hooks = reg
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Agent) error {
		if tracer != nil {
			a.tracer = tracer
		}
		return nil
	}
}

// WithStepContext records the last completed skill name and the number of
// completed steps in the state context after every skill.
func WithStepContext() Option {
	return func(a *Agent) error {
		a.stepContext = true
		return nil
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Model returns the default model.
func (a *Agent) Model() string { return a.model }

// Hooks returns the registry handlers are registered on.
func (a *Agent) Hooks() *hooks.Registry { return a.hooks }

// Skills returns the agent skills in execution order.
func (a *Agent) Skills() []skill.Skill {
	return append([]skill.Skill(nil), a.skills...)
}

// RunOption configures a single Execute call.
type RunOption func(*runConfig)

type runConfig struct {
	context map[string]any
}

// WithRunContext merges values into the initial state's context for this run.
func WithRunContext(values map[string]any) RunOption {
	return func(c *runConfig) {
		if c.context == nil {
			c.context = make(map[string]any, len(values))
		}
		maps.Copy(c.context, values)
	}
}

// run carries the identity of a single Execute call.
type run struct {
	id string
	a  *Agent
}

func (r run) event(point hooks.Point, status hooks.RunStatus, st state.Any) hooks.Event {
	ev := hooks.NewEvent(point, r.id, r.a.name)
	ev.Status = status
	ev.State = st
	return ev
}

// Execute threads initial through every skill in order and returns the final
// state. On a skill failure it returns a *StepError wrapping the original
// error after notifying the Error point; later skills and PostExecute are not
// reached.
func (a *Agent) Execute(ctx context.Context, initial state.Any, opts ...RunOption) (state.Any, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r := run{id: uuid.NewString(), a: a}

	ctx, span := a.tracer.Start(ctx, "Agent.Execute")
	defer span.End()
	span.SetAttributes(telemetry.AgentAttributes(a.name, a.model, r.id, len(a.skills))...)

	logger := a.logger.With(slog.String("agent", a.name), slog.String("run_id", r.id))
	logger.DebugContext(ctx, "run started", slog.Int("skills", len(a.skills)))

	if err := a.hooks.Notify(ctx, r.event(hooks.PreExecute, hooks.StatusNotStarted, initial)); err != nil {
		return state.Any{}, a.fail(ctx, span, logger, r, -1, nil, initial, err)
	}

	current := initial
	if len(cfg.context) > 0 {
		current = current.WithContext(cfg.context)
	}

	for i, s := range a.skills {
		if err := ctx.Err(); err != nil {
			return state.Any{}, a.fail(ctx, span, logger, r, i, s, current, err)
		}
		next, err := a.step(ctx, r, i, s, current)
		if err != nil {
			return state.Any{}, a.fail(ctx, span, logger, r, i, s, current, err)
		}
		current = next
	}

	if err := a.hooks.Notify(ctx, r.event(hooks.PostExecute, hooks.StatusCompleted, current)); err != nil {
		return state.Any{}, a.fail(ctx, span, logger, r, -1, nil, current, err)
	}

	span.SetAttributes(telemetryStatus(hooks.StatusCompleted))
	span.SetStatus(codes.Ok, "")
	logger.DebugContext(ctx, "run completed", slog.String("state_type", schema.TypeName(current.Type())))
	return current, nil
}

// step runs one skill between its SkillStart and SkillEnd notifications.
func (a *Agent) step(ctx context.Context, r run, i int, s skill.Skill, current state.Any) (state.Any, error) {
	ctx, span := a.tracer.Start(ctx, "Agent.Skill", trace.WithAttributes(
		telemetry.SkillAttributes(s.Name(), i, schema.TypeName(s.InputType()), schema.TypeName(s.OutputType()))...,
	))
	defer span.End()

	start := skillEvent(r.event(hooks.SkillStart, hooks.StatusRunning, current), s, i)
	if err := a.hooks.Notify(ctx, start); err != nil {
		return state.Any{}, err
	}

	env := &skill.Env{
		Client: a.client,
		Model:  a.model,
		Hooks:  a.hooks,
		Logger: a.logger,
		RunID:  r.id,
		Agent:  a.name,
		Skill:  s.Name(),
		Step:   i,
	}
	began := time.Now()
	next, err := execute(ctx, s, env, current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state.Any{}, err
	}
	span.SetStatus(codes.Ok, "")
	a.logger.DebugContext(ctx, "skill completed",
		slog.String("agent", a.name),
		slog.String("skill", s.Name()),
		slog.Int("step", i),
		slog.Duration("duration", time.Since(began)),
	)

	if a.stepContext {
		next = next.WithContext(map[string]any{
			ContextLastSkill: s.Name(),
			ContextSteps:     i + 1,
		})
	}

	end := skillEvent(r.event(hooks.SkillEnd, hooks.StatusRunning, next), s, i)
	if err := a.hooks.Notify(ctx, end); err != nil {
		return state.Any{}, err
	}
	return next, nil
}

// skillEvent scopes ev to the skill at position i.
func skillEvent(ev hooks.Event, s skill.Skill, i int) hooks.Event {
	ev.Skill, ev.Step = s.Name(), i
	ev.InputType = schema.TypeName(s.InputType())
	ev.OutputType = schema.TypeName(s.OutputType())
	return ev
}

// execute runs s, converting a panic into an internal error.
func execute(ctx context.Context, s skill.Skill, env *skill.Env, in state.Any) (out state.Any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("skill %q panicked: %v", s.Name(), rec), nil).
				WithContext("skill", s.Name())
		}
	}()
	return s.Execute(ctx, env, in)
}

// fail notifies the Error point and builds the error Execute returns.
// A failure of the Error handlers themselves is logged, never returned.
func (a *Agent) fail(ctx context.Context, span trace.Span, logger *slog.Logger, r run, i int, s skill.Skill, st state.Any, cause error) error {
	name := ""
	if s != nil {
		name = s.Name()
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	span.SetAttributes(telemetryStatus(hooks.StatusFailed))
	if we := errors.AsError(cause); we != nil {
		span.SetAttributes(telemetry.ErrorAttributes(string(we.Code), we.Attributes)...)
	}
	logger.DebugContext(ctx, "run failed", slog.String("skill", name), slog.String("error", cause.Error()))

	ev := r.event(hooks.Error, hooks.StatusFailed, st)
	if s != nil {
		ev = skillEvent(ev, s, i)
	}
	ev.Err = cause
	// Error handlers still run when the failure is the run's own cancellation.
	if err := a.hooks.Notify(context.WithoutCancel(ctx), ev); err != nil {
		logger.WarnContext(ctx, "error hook failed", slog.String("error", err.Error()))
	}

	if s == nil {
		return cause
	}
	return &StepError{Agent: a.name, RunID: r.id, Skill: name, Step: i, State: st, Err: cause}
}

// ExecuteAs runs a and recovers the final state as a State[Out].
// A final payload of another type is a TYPE_MISMATCH error.
func ExecuteAs[Out any](ctx context.Context, a *Agent, initial state.Any, opts ...RunOption) (state.State[Out], error) {
	final, err := a.Execute(ctx, initial, opts...)
	if err != nil {
		return state.State[Out]{}, err
	}
	out, ok := state.As[Out](final)
	if !ok {
		return state.State[Out]{}, errors.TypeMismatch(a.name, errors.DirectionOutput,
			schema.TypeName(reflect.TypeFor[Out]()), schema.TypeName(final.Type()))
	}
	return out, nil
}

func telemetryStatus(s hooks.RunStatus) attribute.KeyValue {
	return attribute.String(telemetry.AttrRunStatus, string(s))
}
