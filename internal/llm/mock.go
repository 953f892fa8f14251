package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses in order. Tests enqueue one response
// per expected call; running out of script is an error so a test fails loudly
// when the code under test makes more calls than planned.
type MockClient struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     []MockCall
	// Handler, when set, overrides the scripted queue entirely.
	Handler func(ctx context.Context, task Task, req Request) (Response, error)
}

// MockCall records one observed request for assertions.
type MockCall struct {
	Task    Task
	Request Request
}

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Enqueue appends a successful scripted response.
func (m *MockClient) Enqueue(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, Response{Content: content, Model: "mock"})
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError appends a failing call.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, Response{})
	m.errs = append(m.errs, err)
	return m
}

// Calls returns the observed requests.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Execute implements Client.
func (m *MockClient) Execute(ctx context.Context, task Task, req Request) (Response, error) {
	if m.Handler != nil {
		m.mu.Lock()
		m.calls = append(m.calls, MockCall{Task: task, Request: req})
		m.mu.Unlock()
		return m.Handler(ctx, task, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Task: task, Request: req})
	if len(m.responses) == 0 {
		return Response{}, fmt.Errorf("mock client script exhausted (task=%s)", task)
	}
	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// ExecuteTTSEnhancement implements Client.
func (m *MockClient) ExecuteTTSEnhancement(ctx context.Context, req Request) (Response, error) {
	return m.Execute(ctx, TaskTTSEnhance, req)
}
