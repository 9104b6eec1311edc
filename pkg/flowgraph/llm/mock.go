package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a scriptable Client for tests.
//
// By default it returns a fixed response. WithResponses cycles through a
// list of texts, WithScript through full responses (including tool calls),
// and WithCompleteFunc delegates entirely.
type MockClient struct {
	mu sync.Mutex

	response     string
	responses    []string
	script       []*CompletionResponse
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	index        int

	// Calls records every request in order.
	Calls []CompletionRequest
}

var _ Client = (*MockClient)(nil)

// NewMockClient returns a mock that always answers with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithResponses makes successive calls return these texts, cycling.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.index = 0
	return m
}

// WithScript makes successive calls return these responses in order.
// The last entry repeats once the script is exhausted.
func (m *MockClient) WithScript(script ...*CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
	m.index = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithCompleteFunc delegates every call to fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.completeFunc
	if fn != nil {
		m.mu.Unlock()
		return fn(ctx, req)
	}
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	if len(m.script) > 0 {
		i := m.index
		if i >= len(m.script) {
			i = len(m.script) - 1
		}
		m.index++
		resp := *m.script[i]
		if resp.FinishReason == "" {
			resp.FinishReason = "stop"
		}
		return &resp, nil
	}

	content := m.response
	if len(m.responses) > 0 {
		content = m.responses[m.index%len(m.responses)]
		m.index++
	}

	in := approxTokens(req)
	out := len(strings.Fields(content)) + 1
	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Model:        "mock",
		Usage: TokenUsage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
	}, nil
}

// CallCount returns the number of Complete calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds scripted responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
}

func approxTokens(req CompletionRequest) int {
	n := len(strings.Fields(req.SystemPrompt))
	for _, msg := range req.Messages {
		n += len(strings.Fields(msg.Content))
	}
	return n + 1
}
