// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration, trace-aware logging
// and hook-driven metrics for agent runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for waspnest telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentName   = "waspnest.agent.name"
	AttrAgentModel  = "waspnest.agent.model"
	AttrAgentRunID  = "waspnest.agent.run_id"
	AttrAgentSkills = "waspnest.agent.skills"
	AttrRunStatus   = "waspnest.run.status"

	// Skill attributes
	AttrSkillName       = "waspnest.skill.name"
	AttrSkillStep       = "waspnest.skill.step"
	AttrSkillInputType  = "waspnest.skill.input_type"
	AttrSkillOutputType = "waspnest.skill.output_type"
	AttrSkillDurationMs = "waspnest.skill.duration_ms"

	// Hook attributes
	AttrHookPoint = "waspnest.hook.point"

	// Error attributes
	AttrErrorCode = "error.code"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel         = "gen_ai.request.model"
	AttrLLMProvider      = "gen_ai.system"
	AttrLLMMessages      = "gen_ai.request.messages"
	AttrLLMResponseModel = "gen_ai.response.schema"
	AttrLLMTokensInput   = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput  = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal   = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs    = "gen_ai.duration_ms"
)

// AgentAttributes returns common attributes for agent run spans.
func AgentAttributes(name, model, runID string, skills int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, name),
		attribute.String(AttrAgentRunID, runID),
		attribute.Int(AttrAgentSkills, skills),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrAgentModel, model))
	}
	return attrs
}

// SkillAttributes returns attributes for a skill execution span.
func SkillAttributes(name string, step int, inputType, outputType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
		attribute.Int(AttrSkillStep, step),
	}
	if inputType != "" {
		attrs = append(attrs, attribute.String(AttrSkillInputType, inputType))
	}
	if outputType != "" {
		attrs = append(attrs, attribute.String(AttrSkillOutputType, outputType))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider, responseModel string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if responseModel != "" {
		attrs = append(attrs, attribute.String(AttrLLMResponseModel, responseModel))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

// ErrorAttributes returns attributes describing a failure.
func ErrorAttributes(code string, attrs map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+1)
	if code != "" {
		out = append(out, attribute.String(AttrErrorCode, code))
	}
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}
