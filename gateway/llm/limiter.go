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
	"time"
)

// ConcurrencyLimiter bounds the number of simultaneous outbound LLM calls.
// Excess callers wait until a slot frees or their deadline elapses.
type ConcurrencyLimiter struct {
	slots chan struct{}
}

// DefaultMaxConcurrent matches a conservative provider rate limit.
const DefaultMaxConcurrent = 8

// NewConcurrencyLimiter creates a limiter with max concurrent slots.
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max <= 0 {
		max = DefaultMaxConcurrent
	}
	return &ConcurrencyLimiter{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is available or ctx is done.
// A deadline that elapses while queued surfaces as KindUnavailable so the
// pipeline switches to the template path instead of reporting a timeout.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return NewPortError("limiter", KindUnavailable, "no outbound slot before deadline", ctx.Err())
	}
}

// Release frees a slot acquired with Acquire.
func (l *ConcurrencyLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// InUse returns the number of slots currently held.
func (l *ConcurrencyLimiter) InUse() int {
	return len(l.slots)
}

// RateLimiter smooths outbound provider calls to a sustained request
// rate with a burst allowance. It complements the ConcurrencyLimiter:
// slots bound parallelism, tokens bound call frequency, so a burst of
// short prompts cannot trip the provider's account-level quota.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	perSecond  float64
	lastRefill time.Time
}

// NewRateLimiter creates a token bucket that refills at perSecond and
// holds at most burst tokens. The bucket starts full.
func NewRateLimiter(perSecond, burst float64) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		tokens:     burst,
		burst:      burst,
		perSecond:  perSecond,
		lastRefill: time.Now(),
	}
}

// Wait takes one token, sleeping out the deficit when the bucket is
// empty. A deadline that elapses while waiting surfaces as
// KindUnavailable so the pipeline degrades to the template path.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.take()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return NewPortError("ratelimiter", KindUnavailable, "no rate token before deadline", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// TryAcquire takes a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	_, ok := r.take()
	return ok
}

// take consumes a token when one is available; otherwise it returns how
// long the bucket needs to refill one.
func (r *RateLimiter) take() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.perSecond
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return 0, true
	}
	deficit := (1 - r.tokens) / r.perSecond
	return time.Duration(deficit * float64(time.Second)), false
}
