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
	"errors"
	"time"

	"tutorgate/platform/shared/logger"
)

// Client composes a provider with the semantic cache, the outbound
// concurrency limiter and the retry policy. It is the only surface the
// tutor strategies talk to.
type Client struct {
	provider Provider
	cache    *SemanticCache // nil when caching is disabled
	limiter  *ConcurrencyLimiter
	rate     *RateLimiter // nil when no rate is configured
	log      *logger.Logger

	retryBackoff time.Duration
}

// ClientConfig configures a Client. A zero RatePerSecond disables
// call-rate smoothing; RateBurst defaults to one second of tokens.
type ClientConfig struct {
	Provider      Provider
	Cache         *SemanticCache
	MaxConcurrent int
	RatePerSecond float64
	RateBurst     float64
	RetryBackoff  time.Duration
}

// NewClient creates a client around a provider.
func NewClient(cfg ClientConfig) *Client {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var rate *RateLimiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.RatePerSecond
		}
		rate = NewRateLimiter(cfg.RatePerSecond, burst)
	}
	return &Client{
		provider:     cfg.Provider,
		cache:        cfg.Cache,
		limiter:      NewConcurrencyLimiter(cfg.MaxConcurrent),
		rate:         rate,
		log:          logger.New("llm-client"),
		retryBackoff: backoff,
	}
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider { return c.provider }

// InvalidateSession drops every cached entry for a session.
func (c *Client) InvalidateSession(sessionID string) {
	if c.cache != nil {
		c.cache.InvalidateSession(sessionID)
	}
}

// Generate runs a completion through cache, limiter and retry policy.
// keyInput scopes the cache entry; pass an empty SessionID only in tests
// that deliberately disable session salting.
func (c *Client) Generate(ctx context.Context, keyInput CacheKeyInput, messages []Message, opts Options) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	if c.cache == nil {
		return c.callWithRetry(ctx, messages, opts)
	}

	key := c.cache.Key(keyInput)
	return c.cache.GetOrGenerate(ctx, key, keyInput.SessionID, func(ctx context.Context) (*Response, error) {
		return c.callWithRetry(ctx, messages, opts)
	})
}

// GenerateStream bypasses the cache (partial bodies are never cached) but
// still honors the limiter. The completed body is written back so later
// identical prompts hit.
func (c *Client) GenerateStream(ctx context.Context, keyInput CacheKeyInput, messages []Message, opts Options, handler StreamHandler) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()
	if c.rate != nil {
		if err := c.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.provider.GenerateStream(ctx, messages, opts, handler)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && resp != nil && resp.Content != "" {
		key := c.cache.Key(keyInput)
		c.cache.mu.Lock()
		c.cache.storeLocked(key, keyInput.SessionID, resp)
		c.cache.mu.Unlock()
	}
	return resp, nil
}

// callWithRetry performs the provider call with one retry on transient
// errors, backing off within the remaining deadline. RateLimited and
// InvalidResponse are never retried.
func (c *Client) callWithRetry(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Release()
	if c.rate != nil {
		if err := c.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.provider.Generate(ctx, messages, opts)
	if err == nil {
		if resp == nil || resp.Content == "" {
			return nil, NewPortError(c.provider.Name(), KindInvalidResponse, "empty completion body", nil)
		}
		return resp, nil
	}

	var pe *PortError
	if !errors.As(err, &pe) || !pe.Retryable() {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 2*c.retryBackoff {
		return nil, err
	}

	c.log.Warn("", "", "Retrying LLM call after transient error", map[string]interface{}{
		"provider": c.provider.Name(),
		"kind":     string(pe.Kind),
	})

	select {
	case <-time.After(c.retryBackoff):
	case <-ctx.Done():
		return nil, ctxError(c.provider.Name(), ctx)
	}

	resp, err = c.provider.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Content == "" {
		return nil, NewPortError(c.provider.Name(), KindInvalidResponse, "empty completion body", nil)
	}
	return resp, nil
}
