package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a Provider for tests and offline examples. Chat answers
// with ChatFunc when set, then Err, then Response. Every request is recorded.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	switch {
	case m.ChatFunc != nil:
		return m.ChatFunc(ctx, req)
	case m.Err != nil:
		return nil, m.Err
	}
	return mockResponse(req, m.Response), nil
}

// Calls returns how many times Chat has been called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// NewScriptedMockProvider returns a MockProvider that answers with responses
// in order, one per call, and fails once they run out. It fits agents whose
// skills each ask once.
func NewScriptedMockProvider(responses ...string) *MockProvider {
	var (
		mu    sync.Mutex
		queue = append([]string(nil), responses...)
	)
	return &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 {
			return nil, fmt.Errorf("scripted mock: no response left for call")
		}
		next := queue[0]
		queue = queue[1:]
		return mockResponse(req, next), nil
	}}
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}

func mockResponse(req ChatRequest, content string) *ChatResponse {
	return &ChatResponse{
		Content: content,
		Model:   req.Model,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}
