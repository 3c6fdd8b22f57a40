package llm

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator is an in-memory Generator for tests. It replies with a
// canned answer, or echoes a digest of the last user message when no answer
// is set.
type MockGenerator struct {
	Answer string
	Err    error

	mu       sync.Mutex
	Requests []Request
}

// Complete returns the canned answer.
func (m *MockGenerator) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return &Response{Content: m.answer(req), FinishReason: "stop"}, nil
}

// Stream emits the canned answer word by word, then returns the accumulated
// response.
func (m *MockGenerator) Stream(ctx context.Context, req Request, onDelta StreamFunc) (*Response, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if onDelta != nil {
		words := strings.SplitAfter(resp.Content, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			if err := onDelta(w); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

// LastRequest returns the most recent request, or a zero value.
func (m *MockGenerator) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

func (m *MockGenerator) answer(req Request) string {
	if m.Answer != "" {
		return m.Answer
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return "answer to: " + req.Messages[i].Content
		}
	}
	return "no user message"
}
