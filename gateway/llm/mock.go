// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockProvider is a scriptable in-process provider. It is the default in
// development and the test double for every pipeline scenario that needs
// to observe or fail LLM calls.
type MockProvider struct {
	name string

	mu        sync.Mutex
	responses []string
	failWith  *PortError
	delay     time.Duration

	calls    int64
	lastMsgs []Message
}

// NewMockProvider creates a mock provider with a canned default response.
func NewMockProvider(name string) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{name: name}
}

// NewMockFactory returns a Factory producing mock providers.
func NewMockFactory() Factory {
	return func(cfg ProviderConfig) (Provider, error) {
		return NewMockProvider(cfg.Name), nil
	}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.name }

// Type implements Provider.
func (m *MockProvider) Type() ProviderType { return ProviderTypeMock }

// QueueResponse appends a scripted response body. Responses are consumed
// in FIFO order; when the queue is empty a generic body is returned.
func (m *MockProvider) QueueResponse(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, body)
}

// FailWith makes every subsequent call fail with the given error.
func (m *MockProvider) FailWith(err *PortError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SetDelay makes every call sleep before responding, subject to ctx.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// CallCount returns how many Generate/GenerateStream calls were made.
func (m *MockProvider) CallCount() int64 {
	return atomic.LoadInt64(&m.calls)
}

// LastMessages returns the messages of the most recent call.
func (m *MockProvider) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.lastMsgs))
	copy(out, m.lastMsgs)
	return out
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	atomic.AddInt64(&m.calls, 1)
	start := time.Now()

	m.mu.Lock()
	m.lastMsgs = append([]Message(nil), messages...)
	delay := m.delay
	failWith := m.failWith
	var body string
	if len(m.responses) > 0 {
		body = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctxError(m.name, ctx)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxError(m.name, ctx)
	}
	if failWith != nil {
		return nil, failWith
	}
	if body == "" {
		body = defaultMockBody(messages)
	}

	return &Response{
		Content: body,
		Model:   "mock-model",
		Usage: UsageStats{
			PromptTokens:     estimateTokens(messages),
			CompletionTokens: len(body) / 4,
			TotalTokens:      estimateTokens(messages) + len(body)/4,
		},
		Latency: time.Since(start),
	}, nil
}

// GenerateStream implements Provider by chunking the Generate body.
func (m *MockProvider) GenerateStream(ctx context.Context, messages []Message, opts Options, handler StreamHandler) (*Response, error) {
	resp, err := m.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	for _, word := range strings.Fields(resp.Content) {
		if err := ctx.Err(); err != nil {
			return nil, ctxError(m.name, ctx)
		}
		if err := handler(StreamChunk{Content: word + " "}); err != nil {
			return nil, NewPortError(m.name, KindCancelled, "stream handler aborted", err)
		}
	}
	if err := handler(StreamChunk{Done: true}); err != nil {
		return nil, NewPortError(m.name, KindCancelled, "stream handler aborted", err)
	}
	return resp, nil
}

func defaultMockBody(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return "Pensemos juntos: ¿qué sabés ya sobre este problema y qué intentaste hasta ahora?"
		}
	}
	return "¿Podrías contarme más sobre lo que estás intentando resolver?"
}

func estimateTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n
}

// ctxError maps a context failure onto the closed error set.
func ctxError(provider string, ctx context.Context) *PortError {
	if ctx.Err() == context.DeadlineExceeded {
		return NewPortError(provider, KindTimeout, "deadline exceeded", ctx.Err())
	}
	return NewPortError(provider, KindCancelled, "call cancelled", ctx.Err())
}
