package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/protolith/excavate/api/schemas"
)

// MockReasoner is a scripted schemas.Reasoner. With provider "mock" the
// service runs fully offline; tests enqueue responses to drive the engine
// down a chosen path, and an empty script makes every call fail so the
// deterministic fallbacks are exercised.
type MockReasoner struct {
	mu     sync.Mutex
	script []json.RawMessage
	errs   []error
	calls  []schemas.CompletionRequest
}

// NewMockReasoner creates an empty mock. Every call errors until responses
// are enqueued.
func NewMockReasoner() *MockReasoner {
	return &MockReasoner{}
}

// Enqueue appends a scripted response. Responses are consumed in order.
func (m *MockReasoner) Enqueue(raw json.RawMessage) *MockReasoner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, raw)
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError appends a scripted failure.
func (m *MockReasoner) EnqueueError(err error) *MockReasoner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, nil)
	m.errs = append(m.errs, err)
	return m
}

// Calls returns a copy of every request seen so far.
func (m *MockReasoner) Calls() []schemas.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete pops the next scripted response.
func (m *MockReasoner) Complete(ctx context.Context, req schemas.CompletionRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.script) == 0 {
		return nil, fmt.Errorf("mock reasoner: no scripted response for call %d", len(m.calls))
	}
	raw, err := m.script[0], m.errs[0]
	m.script = m.script[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Close is a no-op.
func (m *MockReasoner) Close() error { return nil }
