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
	"testing"
	"time"
)

func TestClientGenerateCachesBySession(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.QueueResponse("respuesta uno")
	cache := NewSemanticCache(CacheConfig{Salt: "salt"})
	client := NewClient(ClientConfig{Provider: mock, Cache: cache})

	ctx := context.Background()
	msgs := []Message{{Role: RoleUser, Content: "hola"}}
	in := CacheKeyInput{SessionID: "s1", Mode: "tutor", Prompt: "hola"}

	first, err := client.Generate(ctx, in, msgs, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := client.Generate(ctx, in, msgs, Options{})
	if err != nil {
		t.Fatalf("Generate (cached): %v", err)
	}

	if mock.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", mock.CallCount())
	}
	if first.Content != second.Content {
		t.Error("cached body should match original")
	}
	if !second.Cached {
		t.Error("second response should be marked cached")
	}

	// A different session with the same prompt misses.
	in2 := in
	in2.SessionID = "s2"
	if _, err := client.Generate(ctx, in2, msgs, Options{}); err != nil {
		t.Fatalf("Generate (other session): %v", err)
	}
	if mock.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2 after second session", mock.CallCount())
	}
}

func TestClientRetriesTransientOnce(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.FailWith(NewPortError("mock", KindUnavailable, "blip", nil))
	client := NewClient(ClientConfig{Provider: mock, RetryBackoff: 5 * time.Millisecond})

	// First attempt fails transiently; clear the failure before the retry fires.
	go func() {
		time.Sleep(2 * time.Millisecond)
		mock.FailWith(nil)
		mock.QueueResponse("recuperado")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Generate(ctx, CacheKeyInput{SessionID: "s1", Prompt: "p"},
		[]Message{{Role: RoleUser, Content: "p"}}, Options{})
	if err != nil {
		t.Fatalf("Generate should succeed on retry: %v", err)
	}
	if resp.Content != "recuperado" {
		t.Errorf("Content = %q", resp.Content)
	}
	if mock.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2", mock.CallCount())
	}
}

func TestClientDoesNotRetryRateLimited(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.FailWith(NewPortError("mock", KindRateLimited, "quota", nil))
	client := NewClient(ClientConfig{Provider: mock, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Generate(ctx, CacheKeyInput{SessionID: "s1", Prompt: "p"},
		[]Message{{Role: RoleUser, Content: "p"}}, Options{})
	if KindOf(err) != KindRateLimited {
		t.Fatalf("error kind = %v, want rate_limited", KindOf(err))
	}
	if mock.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", mock.CallCount())
	}
}

func TestClientTimeoutSurfacesAsPortError(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.SetDelay(200 * time.Millisecond)
	client := NewClient(ClientConfig{Provider: mock, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, CacheKeyInput{SessionID: "s1", Prompt: "p"},
		[]Message{{Role: RoleUser, Content: "p"}}, Options{})
	if KindOf(err) != KindTimeout {
		t.Fatalf("error kind = %v, want timeout", KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("call took %v, should return promptly at deadline", elapsed)
	}
}

func TestClientEmptyBodyIsInvalidResponse(t *testing.T) {
	empty := &emptyProvider{}
	client := NewClient(ClientConfig{Provider: empty})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Generate(ctx, CacheKeyInput{SessionID: "s1", Prompt: "p"},
		[]Message{{Role: RoleUser, Content: "p"}}, Options{})
	if KindOf(err) != KindInvalidResponse {
		t.Fatalf("error kind = %v, want invalid_response", KindOf(err))
	}
}

type emptyProvider struct{}

func (e *emptyProvider) Name() string       { return "empty" }
func (e *emptyProvider) Type() ProviderType { return ProviderTypeMock }
func (e *emptyProvider) Generate(ctx context.Context, m []Message, o Options) (*Response, error) {
	return &Response{Content: ""}, nil
}
func (e *emptyProvider) GenerateStream(ctx context.Context, m []Message, o Options, h StreamHandler) (*Response, error) {
	return &Response{Content: ""}, nil
}

func TestConcurrencyLimiterQueuedDeadline(t *testing.T) {
	l := NewConcurrencyLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer l.Release()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(waitCtx)
	if KindOf(err) != KindUnavailable {
		t.Fatalf("queued deadline should surface as unavailable, got %v", err)
	}
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	r := NewRateLimiter(1000, 2)
	if !r.TryAcquire() || !r.TryAcquire() {
		t.Fatal("burst tokens should be available immediately")
	}

	// The bucket is drained; at 1000/s a token refills within the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait after drain: %v", err)
	}
}

func TestRateLimiterDeadlineSurfacesUnavailable(t *testing.T) {
	r := NewRateLimiter(0.001, 1)
	if !r.TryAcquire() {
		t.Fatal("initial token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx)
	if KindOf(err) != KindUnavailable {
		t.Fatalf("empty bucket at deadline should surface as unavailable, got %v", err)
	}
}

func TestClientAppliesCallRate(t *testing.T) {
	mock := NewMockProvider("mock")
	client := NewClient(ClientConfig{Provider: mock, RatePerSecond: 50, RateBurst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs := []Message{{Role: RoleUser, Content: "p"}}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Generate(ctx, CacheKeyInput{SessionID: "s1", Prompt: "p"}, msgs, Options{}); err != nil {
			t.Fatalf("Generate %d: %v", i+1, err)
		}
	}

	// Calls two and three each owe a ~20ms token deficit.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three calls at 50/s with burst 1 took %v, rate not applied", elapsed)
	}
	if mock.CallCount() != 3 {
		t.Errorf("provider called %d times, want 3", mock.CallCount())
	}
}

func TestRegistryFactorySelection(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory(ProviderTypeMock, NewMockFactory())

	p, err := r.Create(ProviderConfig{Name: "mock-primary", Type: ProviderTypeMock})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Type() != ProviderTypeMock {
		t.Errorf("Type = %v", p.Type())
	}
	if _, ok := r.Get("mock-primary"); !ok {
		t.Error("provider should be retrievable by name")
	}
	if _, err := r.Create(ProviderConfig{Name: "x", Type: ProviderTypeAnthropic}); err == nil {
		t.Error("unregistered type should fail")
	}
}
