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
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// cacheVersion participates in the key so a format change invalidates
// every previously written entry.
const cacheVersion = "v1"

// CacheConfig configures the semantic cache.
type CacheConfig struct {
	// Salt must be institution-unique in production; it prevents
	// adversarial pre-generation of cache keys.
	Salt string

	// TTL is the entry lifetime. Zero means DefaultCacheTTL.
	TTL time.Duration

	// MaxEntries bounds the cache. Zero means DefaultCacheMaxEntries.
	MaxEntries int

	// OnLookup, when set, observes each lookup outcome. The gateway
	// feeds it into its metrics.
	OnLookup func(hit bool)
}

// Cache defaults.
const (
	DefaultCacheTTL        = time.Hour
	DefaultCacheMaxEntries = 10000
)

// CacheKeyInput is everything that participates in a cache key.
// SessionID scopes every key to one session so identical prompts in
// different sessions can never observe each other's responses.
type CacheKeyInput struct {
	SessionID string
	Mode      string
	Prompt    string
	Context   string
}

// cacheEntry is a completed response plus bookkeeping for TTL and LRU.
type cacheEntry struct {
	key       string
	sessionID string
	resp      *Response
	expiresAt time.Time
}

// flight tracks one in-progress generation for a key. Concurrent callers
// for the same key wait on done and then read resp/err.
type flight struct {
	done chan struct{}
	resp *Response
	err  error
}

// SemanticCache is a read-through cache in front of Generate.
// A miss triggers exactly one provider call per key; concurrent callers
// for the same key wait on a single-flight latch with their own deadline.
type SemanticCache struct {
	salt       string
	ttl        time.Duration
	maxEntries int
	onLookup   func(hit bool)

	mu       sync.Mutex
	entries  map[string]*list.Element // key -> *cacheEntry element
	eviction *list.List               // front = most recently used
	inflight map[string]*flight

	hits   int64
	misses int64
}

// NewSemanticCache creates a cache with the given configuration.
func NewSemanticCache(cfg CacheConfig) *SemanticCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = DefaultCacheMaxEntries
	}
	return &SemanticCache{
		salt:       cfg.Salt,
		ttl:        ttl,
		maxEntries: max,
		onLookup:   cfg.OnLookup,
		entries:    make(map[string]*list.Element),
		eviction:   list.New(),
		inflight:   make(map[string]*flight),
	}
}

// Key derives the salted cache key for an input. Session-scoped salting
// prevents cross-session cache poisoning (two sessions with identical
// prompts always produce distinct keys).
func (c *SemanticCache) Key(in CacheKeyInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		c.salt, cacheVersion, in.SessionID, in.Mode, in.Prompt, in.Context)
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrGenerate returns the cached response for key, or runs generate
// exactly once for concurrent callers and caches the completed body.
// Errors are inherited by waiters but never cached.
func (c *SemanticCache) GetOrGenerate(ctx context.Context, key string, sessionID string,
	generate func(context.Context) (*Response, error)) (*Response, error) {

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			c.eviction.MoveToFront(el)
			c.hits++
			c.mu.Unlock()
			c.notify(true)
			cached := *entry.resp
			cached.Cached = true
			return &cached, nil
		}
		// Expired: drop and fall through to generate.
		c.removeLocked(el)
	}

	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			if fl.err != nil {
				return nil, fl.err
			}
			cached := *fl.resp
			cached.Cached = true
			return &cached, nil
		case <-ctx.Done():
			return nil, ctxError("cache", ctx)
		}
	}

	fl := &flight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.misses++
	c.mu.Unlock()
	c.notify(false)

	resp, err := generate(ctx)
	fl.resp, fl.err = resp, err

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil && resp != nil && resp.Content != "" {
		c.storeLocked(key, sessionID, resp)
	}
	c.mu.Unlock()
	close(fl.done)

	return resp, err
}

// InvalidateSession removes every entry belonging to a session.
func (c *SemanticCache) InvalidateSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.eviction.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).sessionID == sessionID {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

func (c *SemanticCache) notify(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

// Stats returns hit/miss counters and the current size.
func (c *SemanticCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// storeLocked inserts an entry and evicts the LRU tail past capacity.
func (c *SemanticCache) storeLocked(key, sessionID string, resp *Response) {
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	entry := &cacheEntry{
		key:       key,
		sessionID: sessionID,
		resp:      resp,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.entries[key] = c.eviction.PushFront(entry)

	for len(c.entries) > c.maxEntries {
		tail := c.eviction.Back()
		if tail == nil {
			break
		}
		c.removeLocked(tail)
	}
}

func (c *SemanticCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.eviction.Remove(el)
}
