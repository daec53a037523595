// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/waspnest/pkg/llm"
)

// Reply is one scripted answer of a ScenarioProvider. A Reply with a Match
// function only answers requests it accepts.
type Reply struct {
	Content string
	Err     error
	Usage   llm.Usage
	Match   func(req llm.ChatRequest) bool
}

func (r Reply) accepts(req llm.ChatRequest) bool {
	return r.Match == nil || r.Match(req)
}

// ScenarioProvider is an llm.Provider that answers from a script. Replies are
// consumed in order; a reply whose Match rejects the request is skipped and
// dropped from the script.
type ScenarioProvider struct {
	mu       sync.Mutex
	script   []Reply
	next     int
	calls    []llm.ChatRequest
	fallback *Reply
}

// NewScenarioProvider returns an empty script.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// Add appends r to the script.
func (p *ScenarioProvider) Add(r Reply) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, r)
	return p
}

// AddResponse appends a raw text reply.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.Add(Reply{Content: content})
}

// AddJSONResponse appends v encoded as JSON. It panics if v cannot be encoded.
func (p *ScenarioProvider) AddJSONResponse(v any) *ScenarioProvider {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("scenario provider: encode reply: %v", err))
	}
	return p.AddResponse(string(data))
}

// AddErrorResponse appends a failing reply.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.Add(Reply{Err: err})
}

// WhenPromptContains appends a reply that only answers requests whose last
// user message contains substr.
func (p *ScenarioProvider) WhenPromptContains(substr, content string) *ScenarioProvider {
	return p.Add(Reply{
		Content: content,
		Match:   func(req llm.ChatRequest) bool { return strings.Contains(req.LastUser(), substr) },
	})
}

// Otherwise sets the reply used once the script is exhausted. Without one,
// an exhausted script fails the call.
func (p *ScenarioProvider) Otherwise(r Reply) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = &r
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply, ok := p.take(req)
	if !ok {
		if p.fallback == nil {
			return nil, fmt.Errorf("scenario exhausted at call %d", len(p.calls))
		}
		reply = *p.fallback
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.ChatResponse{Content: reply.Content, Model: req.Model, Usage: reply.Usage}, nil
}

// take advances past rejected replies. Callers hold p.mu.
func (p *ScenarioProvider) take(req llm.ChatRequest) (Reply, bool) {
	for p.next < len(p.script) {
		r := p.script[p.next]
		p.next++
		if r.accepts(req) {
			return r, true
		}
	}
	return Reply{}, false
}

// Requests returns a copy of every captured request.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.calls...)
}

// LastRequest returns the most recent request, or nil before the first call.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	req := p.calls[len(p.calls)-1]
	return &req
}

func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset rewinds the script and forgets captured requests.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = 0
	p.calls = nil
}
