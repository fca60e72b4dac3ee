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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheKeySessionIsolation(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: "institution-salt"})

	k1 := c.Key(CacheKeyInput{SessionID: "s1", Mode: "tutor", Prompt: "¿Qué es una cola circular?"})
	k2 := c.Key(CacheKeyInput{SessionID: "s2", Mode: "tutor", Prompt: "¿Qué es una cola circular?"})

	if k1 == k2 {
		t.Error("identical prompts in distinct sessions must produce distinct keys")
	}

	// Same inputs must be deterministic.
	if k1 != c.Key(CacheKeyInput{SessionID: "s1", Mode: "tutor", Prompt: "¿Qué es una cola circular?"}) {
		t.Error("key derivation should be deterministic")
	}
}

func TestCacheSaltChangesKey(t *testing.T) {
	a := NewSemanticCache(CacheConfig{Salt: "salt-a"})
	b := NewSemanticCache(CacheConfig{Salt: "salt-b"})

	in := CacheKeyInput{SessionID: "s1", Mode: "tutor", Prompt: "hola"}
	if a.Key(in) == b.Key(in) {
		t.Error("different salts must produce different keys")
	}
}

func TestCacheLookupObserver(t *testing.T) {
	var hits, misses int
	c := NewSemanticCache(CacheConfig{Salt: "x", OnLookup: func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}})
	ctx := context.Background()
	key := c.Key(CacheKeyInput{SessionID: "s1", Prompt: "p"})
	gen := func(ctx context.Context) (*Response, error) {
		return &Response{Content: "body"}, nil
	}

	if _, err := c.GetOrGenerate(ctx, key, "s1", gen); err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if _, err := c.GetOrGenerate(ctx, key, "s1", gen); err != nil {
		t.Fatalf("GetOrGenerate (cached): %v", err)
	}

	if misses != 1 || hits != 1 {
		t.Errorf("hits=%d misses=%d, want 1 each", hits, misses)
	}
}

func TestCacheHitAndExpiry(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: "x", TTL: 50 * time.Millisecond})
	ctx := context.Background()
	key := c.Key(CacheKeyInput{SessionID: "s1", Prompt: "p"})

	var calls int64
	gen := func(ctx context.Context) (*Response, error) {
		atomic.AddInt64(&calls, 1)
		return &Response{Content: "body"}, nil
	}

	for i := 0; i < 3; i++ {
		resp, err := c.GetOrGenerate(ctx, key, "s1", gen)
		if err != nil {
			t.Fatalf("GetOrGenerate: %v", err)
		}
		if resp.Content != "body" {
			t.Fatalf("Content = %q", resp.Content)
		}
		if i > 0 && !resp.Cached {
			t.Error("subsequent calls should be cache hits")
		}
	}
	if calls != 1 {
		t.Errorf("generate called %d times, want 1", calls)
	}

	time.Sleep(70 * time.Millisecond)
	if _, err := c.GetOrGenerate(ctx, key, "s1", gen); err != nil {
		t.Fatalf("GetOrGenerate after expiry: %v", err)
	}
	if calls != 2 {
		t.Errorf("generate called %d times after expiry, want 2", calls)
	}
}

func TestCacheSingleFlight(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: ""}) // salting disabled for the test
	ctx := context.Background()

	var calls int64
	gen := func(ctx context.Context) (*Response, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(30 * time.Millisecond) // hold the flight open
		return &Response{Content: "shared"}, nil
	}

	// 50 concurrent identical prompts on 50 different sessions, all mapping
	// to one key because session scoping is left out of the key input.
	key := c.Key(CacheKeyInput{Prompt: "identical prompt", Mode: "tutor"})

	var wg sync.WaitGroup
	bodies := make([]string, 50)
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.GetOrGenerate(ctx, key, "", gen)
			if err != nil {
				errs[i] = err
				return
			}
			bodies[i] = resp.Content
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("provider called %d times, want exactly 1 per unique key", calls)
	}
	for i := range bodies {
		if errs[i] != nil {
			t.Fatalf("caller %d got error: %v", i, errs[i])
		}
		if bodies[i] != "shared" {
			t.Errorf("caller %d body = %q, want %q", i, bodies[i], "shared")
		}
	}
}

func TestCacheWaiterInheritsError(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: "x"})
	ctx := context.Background()
	key := c.Key(CacheKeyInput{SessionID: "s1", Prompt: "p"})

	failure := NewPortError("mock", KindUnavailable, "down", nil)
	started := make(chan struct{})
	gen := func(ctx context.Context) (*Response, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return nil, failure
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := c.GetOrGenerate(ctx, key, "s1", gen)
		errCh <- err
	}()
	<-started
	go func() {
		_, err := c.GetOrGenerate(ctx, key, "s1", func(ctx context.Context) (*Response, error) {
			t.Error("waiter must not trigger a second generate")
			return nil, nil
		})
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; KindOf(err) != KindUnavailable {
			t.Errorf("error kind = %v, want unavailable", KindOf(err))
		}
	}

	// Errors are not cached: the next call generates again.
	var calls int64
	if _, err := c.GetOrGenerate(ctx, key, "s1", func(ctx context.Context) (*Response, error) {
		atomic.AddInt64(&calls, 1)
		return &Response{Content: "ok"}, nil
	}); err != nil {
		t.Fatalf("GetOrGenerate after failure: %v", err)
	}
	if calls != 1 {
		t.Error("failed flights must not leave cached errors behind")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: "x", MaxEntries: 2})
	ctx := context.Background()

	mk := func(prompt string) string {
		return c.Key(CacheKeyInput{SessionID: "s1", Prompt: prompt})
	}
	gen := func(body string) func(context.Context) (*Response, error) {
		return func(ctx context.Context) (*Response, error) {
			return &Response{Content: body}, nil
		}
	}

	_, _ = c.GetOrGenerate(ctx, mk("a"), "s1", gen("a"))
	_, _ = c.GetOrGenerate(ctx, mk("b"), "s1", gen("b"))
	_, _ = c.GetOrGenerate(ctx, mk("a"), "s1", gen("a")) // touch a
	_, _ = c.GetOrGenerate(ctx, mk("c"), "s1", gen("c")) // evicts b

	_, _, size := c.Stats()
	if size != 2 {
		t.Fatalf("size = %d, want 2", size)
	}

	var regenerated bool
	_, _ = c.GetOrGenerate(ctx, mk("b"), "s1", func(ctx context.Context) (*Response, error) {
		regenerated = true
		return &Response{Content: "b"}, nil
	})
	if !regenerated {
		t.Error("LRU entry b should have been evicted")
	}
}

func TestCacheInvalidateSession(t *testing.T) {
	c := NewSemanticCache(CacheConfig{Salt: "x"})
	ctx := context.Background()

	for _, s := range []string{"s1", "s1", "s2"} {
		key := c.Key(CacheKeyInput{SessionID: s, Prompt: s + time.Now().String()})
		_, _ = c.GetOrGenerate(ctx, key, s, func(ctx context.Context) (*Response, error) {
			return &Response{Content: "x"}, nil
		})
	}

	removed := c.InvalidateSession("s1")
	if removed != 2 {
		t.Errorf("removed %d entries, want 2", removed)
	}
	_, _, size := c.Stats()
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
}
