// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"

	"github.com/jllopis/waspnest/pkg/errors"
)

// DefaultModel is used when neither the provider nor the request name one.
const DefaultModel = "gpt-4o-mini"

// GollmProvider implements Provider on top of gollm, which covers openai,
// anthropic, ollama, groq and the other backends gollm supports.
type GollmProvider struct {
	provider string
	model    string
	// defaults are re-applied on every call for the keys a request leaves
	// unset, so one call's options never leak into the next.
	defaults map[string]any

	// gollm applies per-request options by mutating the LLM, so calls are
	// serialized.
	mu  sync.Mutex
	llm gollm.LLM
}

// optionSetter is the part of gollm.LLM that holds per-call options.
type optionSetter interface {
	SetOption(key string, value any)
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
	defaultOpts map[string]any
}

// WithAPIKey sets the API key. When empty gollm reads it from the environment.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithDefaultOption sets the value a request option key falls back to on
// calls that do not set it. Request Options keys without a default keep
// whatever value the last call gave them.
func WithDefaultOption(key string, value any) GollmOption {
	return func(c *gollmConfig) {
		if c.defaultOpts == nil {
			c.defaultOpts = make(map[string]any)
		}
		c.defaultOpts[key] = value
	}
}

// WithGollmOptions adds raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmProvider creates a provider for the named gollm backend.
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	if provider == "" {
		return nil, errors.Configuration("llm provider name is required")
	}
	cfg := &gollmConfig{
		model:       DefaultModel,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		// Failed calls surface as upstream errors; the caller owns retries.
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration,
			fmt.Sprintf("failed to create gollm client for provider %s", provider), err).
			WithContext("provider", provider)
	}
	return &GollmProvider{provider: provider, model: cfg.model, defaults: cfg.defaults(), llm: llm}, nil
}

func (c *gollmConfig) defaults() map[string]any {
	d := maps.Clone(c.defaultOpts)
	if d == nil {
		d = make(map[string]any)
	}
	d["temperature"] = c.temperature
	d["max_tokens"] = c.maxTokens
	return d
}

// Name returns the gollm backend name.
func (p *GollmProvider) Name() string { return p.provider }

// Chat implements Provider.
func (p *GollmProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	system, user := flatten(req.Messages)
	promptOpts := []gollm.PromptOption{}
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}
	prompt := gollm.NewPrompt(user, promptOpts...)

	model := req.Model
	if model == "" {
		model = p.model
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.applyOptions(p.llm, model, req)

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, translateError(p.provider, model, err)
	}

	// gollm does not report usage; estimate from text length.
	in := (len(system) + len(user)) / 4
	out := len(text) / 4
	return &ChatResponse{
		Content: text,
		Model:   model,
		Usage: Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

// applyOptions sets the options of one call on s: the request's values where
// given, the provider defaults otherwise. Keys are applied in sorted order.
func (p *GollmProvider) applyOptions(s optionSetter, model string, req ChatRequest) {
	opts := maps.Clone(p.defaults)
	if opts == nil {
		opts = make(map[string]any)
	}
	opts["model"] = model
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["max_tokens"] = req.MaxTokens
	}
	maps.Copy(opts, req.Options)
	for _, k := range slices.Sorted(maps.Keys(opts)) {
		s.SetOption(k, opts[k])
	}
}

// flatten folds a message list into the single system prompt and user
// prompt gollm accepts. Assistant turns are kept inline as context.
func flatten(msgs []Message) (system, user string) {
	var sys, parts []string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleUser:
			parts = append(parts, m.Content)
		case RoleAssistant:
			if m.Content != "" {
				parts = append(parts, "[Assistant]: "+m.Content)
			}
		}
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), strings.Join(parts, "\n")
}

// translateError classifies a gollm error by its message. gollm does not
// expose typed errors.
func translateError(provider, model string, err error) error {
	msg := strings.ToLower(err.Error())
	reason := "provider_error"
	recoverable := true
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		reason, recoverable = "authentication", false
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		reason, recoverable = "access_denied", false
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		reason, recoverable = "not_found", false
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		reason = "rate_limit"
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		reason, recoverable = "context_length", false
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server"):
		reason = "server_error"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		reason = "timeout"
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "safety"):
		reason, recoverable = "content_filter", false
	}
	return errors.Upstream(fmt.Sprintf("%s request failed", provider), err).
		WithContext("provider", provider).
		WithContext("model", model).
		WithContext("reason", reason).
		WithAttribute("gen_ai.system", provider).
		WithRecoverable(recoverable)
}
