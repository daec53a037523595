// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
)

// RunMetrics records run, skill, error and LLM request counts from hook
// events. Attach it to a registry with Register.
type RunMetrics struct {
	runCounter   metric.Int64Counter
	skillCounter metric.Int64Counter
	errorCounter metric.Int64Counter
	llmCounter   metric.Int64Counter
	skillLatency metric.Float64Histogram

	mu      sync.Mutex
	started map[string]time.Time
}

// NewRunMetrics creates the instruments on the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	return NewRunMetricsWithMeter(otel.Meter("waspnest/agent"))
}

// NewRunMetricsWithMeter creates the instruments on meter.
func NewRunMetricsWithMeter(meter metric.Meter) (*RunMetrics, error) {
	runCounter, err := meter.Int64Counter(
		"waspnest.runs.total",
		metric.WithDescription("Agent runs by final status"),
	)
	if err != nil {
		return nil, err
	}
	skillCounter, err := meter.Int64Counter(
		"waspnest.skills.total",
		metric.WithDescription("Completed skill executions by skill"),
	)
	if err != nil {
		return nil, err
	}
	errorCounter, err := meter.Int64Counter(
		"waspnest.errors.total",
		metric.WithDescription("Run failures by error code and skill"),
	)
	if err != nil {
		return nil, err
	}
	llmCounter, err := meter.Int64Counter(
		"waspnest.llm.requests",
		metric.WithDescription("LLM requests issued by skills"),
	)
	if err != nil {
		return nil, err
	}
	skillLatency, err := meter.Float64Histogram(
		"waspnest.skill.duration_ms",
		metric.WithDescription("Skill execution latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &RunMetrics{
		runCounter:   runCounter,
		skillCounter: skillCounter,
		errorCounter: errorCounter,
		llmCounter:   llmCounter,
		skillLatency: skillLatency,
		started:      make(map[string]time.Time),
	}, nil
}

// Register subscribes m to the lifecycle points it measures.
func (m *RunMetrics) Register(reg *hooks.Registry) error {
	handlers := map[hooks.Point]hooks.Handler{
		hooks.SkillStart:  m.onSkillStart,
		hooks.SkillEnd:    m.onSkillEnd,
		hooks.Error:       m.onError,
		hooks.PostExecute: m.onPostExecute,
		hooks.LLMRequest:  m.onLLMRequest,
	}
	for _, p := range hooks.Points {
		h, ok := handlers[p]
		if !ok {
			continue
		}
		if err := reg.On(p, h); err != nil {
			return err
		}
	}
	return nil
}

func stepKey(ev hooks.Event) string {
	return ev.RunID + "/" + ev.Skill
}

func (m *RunMetrics) onSkillStart(_ context.Context, ev hooks.Event) error {
	m.mu.Lock()
	m.started[stepKey(ev)] = ev.Time
	m.mu.Unlock()
	return nil
}

func (m *RunMetrics) finishStep(ctx context.Context, ev hooks.Event) {
	m.mu.Lock()
	start, ok := m.started[stepKey(ev)]
	delete(m.started, stepKey(ev))
	m.mu.Unlock()
	if ok {
		m.skillLatency.Record(ctx, float64(ev.Time.Sub(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String(AttrSkillName, ev.Skill)))
	}
}

func (m *RunMetrics) onSkillEnd(ctx context.Context, ev hooks.Event) error {
	m.finishStep(ctx, ev)
	m.skillCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSkillName, ev.Skill),
	))
	return nil
}

func (m *RunMetrics) onError(ctx context.Context, ev hooks.Event) error {
	m.finishStep(ctx, ev)
	code := string(errors.CodeOf(ev.Err))
	if code == "" {
		code = string(errors.CodeInternal)
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrSkillName, ev.Skill),
		attribute.String(AttrAgentName, ev.Agent),
	))
	m.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, ev.Agent),
		attribute.String(AttrRunStatus, string(hooks.StatusFailed)),
	))
	return nil
}

func (m *RunMetrics) onPostExecute(ctx context.Context, ev hooks.Event) error {
	m.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, ev.Agent),
		attribute.String(AttrRunStatus, string(hooks.StatusCompleted)),
	))
	return nil
}

func (m *RunMetrics) onLLMRequest(ctx context.Context, ev hooks.Event) error {
	model := ""
	if ev.Request != nil {
		model = ev.Request.Model
	}
	m.llmCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSkillName, ev.Skill),
		attribute.String(AttrLLMModel, model),
	))
	return nil
}
