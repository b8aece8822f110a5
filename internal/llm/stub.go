package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StubFunc computes a scripted reply.
type StubFunc func(req Request) (string, error)

// Stub is a deterministic Model for tests. Replies are taken from the
// queue registered for the request purpose, then from the default queue,
// then from Fallback.
type Stub struct {
	mu       sync.Mutex
	queues   map[string][]StubFunc
	Fallback StubFunc
	Calls    []Request
}

// NewStub returns an empty Stub.
func NewStub() *Stub {
	return &Stub{queues: make(map[string][]StubFunc)}
}

// On queues fn for requests with the given purpose ("" matches any).
func (s *Stub) On(purpose string, fn StubFunc) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[purpose] = append(s.queues[purpose], fn)
	return s
}

// Reply queues a fixed reply for purpose.
func (s *Stub) Reply(purpose, text string) *Stub {
	return s.On(purpose, func(Request) (string, error) { return text, nil })
}

// Generate implements Model.
func (s *Stub) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.Calls = append(s.Calls, req)
	fn := s.pop(req.Purpose)
	if fn == nil {
		fn = s.pop("")
	}
	if fn == nil {
		fn = s.Fallback
	}
	s.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("stub: no reply for purpose %q", req.Purpose)
	}
	return fn(req)
}

func (s *Stub) pop(purpose string) StubFunc {
	q := s.queues[purpose]
	if len(q) == 0 {
		return nil
	}
	fn := q[0]
	s.queues[purpose] = q[1:]
	return fn
}

// CallCount returns how many calls carried the given purpose ("" counts all).
func (s *Stub) CallCount(purpose string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if purpose == "" {
		return len(s.Calls)
	}
	n := 0
	for _, c := range s.Calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

// CallsMatching returns calls whose user prompt contains substr.
func (s *Stub) CallsMatching(substr string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, c := range s.Calls {
		if strings.Contains(c.User, substr) {
			out = append(out, c)
		}
	}
	return out
}
