// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package skill

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/llm"
	"github.com/jllopis/waspnest/pkg/schema"
	"github.com/jllopis/waspnest/pkg/telemetry"
)

// AskOption adjusts a single LLM call.
type AskOption func(*askConfig)

type askConfig struct {
	model       string
	temperature *float64
	maxTokens   int
	timeout     time.Duration
	options     map[string]any
}

// WithModel overrides the agent's model for this call.
func WithModel(model string) AskOption {
	return func(c *askConfig) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) AskOption {
	return func(c *askConfig) {
		c.temperature = &t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) AskOption {
	return func(c *askConfig) {
		c.maxTokens = n
	}
}

// WithTimeout bounds the call. Exceeding it surfaces as an UPSTREAM_ERROR
// wrapping the deadline.
func WithTimeout(d time.Duration) AskOption {
	return func(c *askConfig) {
		c.timeout = d
	}
}

// WithOption passes a provider-specific parameter through untouched.
func WithOption(key string, value any) AskOption {
	return func(c *askConfig) {
		if c.options == nil {
			c.options = make(map[string]any)
		}
		c.options[key] = value
	}
}

// Ask sends prompt to the collaborator in env and decodes the reply into R.
//
// The JSON Schema of R is appended to the system prompt. An LLMRequest
// event is fired before the call. A collaborator failure is returned as
// UPSTREAM_ERROR; a reply that does not conform to R as VALIDATION_ERROR.
func Ask[R any](ctx context.Context, env *Env, prompt, systemPrompt string, opts ...AskOption) (R, error) {
	var zero R
	if env == nil || env.Client == nil {
		return zero, errors.Configuration("skill must be run by an agent to ask the LLM")
	}

	cfg := askConfig{model: env.Model}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.model == "" {
		cfg.model = llm.DefaultModel
	}

	rt := reflect.TypeFor[R]()
	responseModel := schema.TypeName(rt)
	instruction, err := schema.Instruction(rt)
	if err != nil {
		return zero, errors.Validation(fmt.Sprintf("cannot describe response type %s", responseModel), err)
	}
	doc, _ := schema.DescribeJSON(rt)

	system := instruction
	if systemPrompt != "" {
		system = systemPrompt + "\n\n" + instruction
	}
	req := llm.ChatRequest{
		Model: cfg.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: cfg.temperature,
		MaxTokens:   cfg.maxTokens,
		Options:     maps.Clone(cfg.options),
	}

	tracer := otel.Tracer("waspnest/skill")
	ctx, span := tracer.Start(ctx, "Skill.Ask", trace.WithAttributes(
		telemetry.LLMAttributes(cfg.model, "", responseModel, len(req.Messages))...,
	))
	defer span.End()
	span.SetAttributes(telemetry.SkillAttributes(env.Skill, env.Step, "", "")...)

	ev := hooks.NewEvent(hooks.LLMRequest, env.RunID, env.Agent)
	ev.Skill = env.Skill
	ev.Step = env.Step
	ev.Status = hooks.StatusRunning
	ev.Request = &hooks.Request{
		Model:         cfg.model,
		Prompt:        prompt,
		SystemPrompt:  systemPrompt,
		ResponseModel: responseModel,
		Schema:        doc,
		Options:       maps.Clone(cfg.options),
	}
	if err := env.Hooks.Notify(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm_request hook failed")
		return zero, err
	}

	callCtx := ctx
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := env.Client.Chat(callCtx, req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		env.logger().WarnContext(ctx, "llm call failed",
			slog.String("skill", env.Skill),
			slog.String("model", cfg.model),
			slog.String("error", err.Error()),
		)
		if errors.HasCode(err, errors.CodeUpstream) {
			return zero, err
		}
		return zero, errors.Upstream(fmt.Sprintf("llm call for %s failed", responseModel), err).
			WithContext("model", cfg.model).
			WithContext("skill", env.Skill).
			WithAttribute(telemetry.AttrLLMModel, cfg.model)
	}
	if resp == nil {
		err := errors.Upstream("llm returned no response", nil).WithContext("model", cfg.model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		return zero, err
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, elapsed)...)

	out, err := schema.Decode[R](resp.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid llm response")
		return zero, errors.AsError(err).
			WithContext("skill", env.Skill).
			WithContext("model", cfg.model)
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}
