package llm

import (
	"context"
	"sync"
)

// mockTurn is one queued Chat outcome.
type mockTurn struct {
	resp *ChatResponse
	err  error
}

// MockProvider is a test double for Provider. Outcomes queue in a
// single FIFO, so SetResponse/SetError enqueue order is delivery
// order. ChatFunc, when set, computes every response instead.
type MockProvider struct {
	mu       sync.Mutex
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	turns    []mockTurn
	calls    []ChatRequest
	model    string
}

// NewMockProvider creates a MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{model: "mock-model"}
}

// SetResponse queues a canned response.
func (m *MockProvider) SetResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{resp: &ChatResponse{Content: content}})
}

// SetToolCalls queues a response requesting the given tool calls.
func (m *MockProvider) SetToolCalls(calls ...ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{resp: &ChatResponse{ToolCalls: calls}})
}

// SetError queues an error.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{err: err})
}

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockProvider) Model() string { return m.model }

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.ChatFunc != nil {
		fn := m.ChatFunc
		m.mu.Unlock()
		return fn(ctx, req)
	}
	if len(m.turns) > 0 {
		turn := m.turns[0]
		m.turns = m.turns[1:]
		m.mu.Unlock()
		return turn.resp, turn.err
	}
	m.mu.Unlock()
	return &ChatResponse{Content: ""}, nil
}
