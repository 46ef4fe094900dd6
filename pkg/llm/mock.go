package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Client for tests. Respond, when set, computes each
// answer; otherwise Responses are returned in order and the last repeats.
type Mock struct {
	ModelName string
	Responses []Response
	Err       error
	Respond   func(req Request) (Response, error)

	mu    sync.Mutex
	calls []Request
	next  int
}

func (m *Mock) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	respond := m.Respond
	m.mu.Unlock()

	if respond != nil {
		return respond(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return Response{}, m.Err
	}

	if len(m.Responses) == 0 {
		return Response{}, ErrEmptyResponse
	}

	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}

	return m.Responses[idx], nil
}

func (m *Mock) Model() string { return m.ModelName }

// Calls returns a copy of the received requests.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.calls...)
}

// CallCount is len(Calls()).
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}
