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

package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// SubjectRateLimiter throttles requests per authenticated subject with a
// minute window and an hour window; the stricter one wins. Windows are
// fixed (reset at boundary) which is coarse but cheap and predictable.
type SubjectRateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	subjects  map[string]*subjectWindow
	now       func() time.Time
}

type subjectWindow struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSeen    time.Time
}

// NewSubjectRateLimiter creates the limiter and starts a janitor that
// drops subjects idle past an hour.
func NewSubjectRateLimiter(perMinute, perHour int) *SubjectRateLimiter {
	l := &SubjectRateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		subjects:  make(map[string]*subjectWindow),
		now:       time.Now,
	}
	go l.janitor()
	return l
}

// Allow records one request for subject. When denied, retryAfter tells
// the caller how long until the stricter window resets.
func (l *SubjectRateLimiter) Allow(subject string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.subjects[subject]
	if !ok {
		w = &subjectWindow{minuteStart: now, hourStart: now}
		l.subjects[subject] = w
	}
	w.lastSeen = now

	if now.Sub(w.minuteStart) >= time.Minute {
		w.minuteStart = now
		w.minuteCount = 0
	}
	if now.Sub(w.hourStart) >= time.Hour {
		w.hourStart = now
		w.hourCount = 0
	}

	if w.hourCount >= l.perHour {
		return false, w.hourStart.Add(time.Hour).Sub(now)
	}
	if w.minuteCount >= l.perMinute {
		return false, w.minuteStart.Add(time.Minute).Sub(now)
	}

	w.minuteCount++
	w.hourCount++
	return true, 0
}

func (l *SubjectRateLimiter) janitor() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := l.now().Add(-time.Hour)
		l.mu.Lock()
		for subject, w := range l.subjects {
			if w.lastSeen.Before(cutoff) {
				delete(l.subjects, subject)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware enforces the limiter per authenticated subject, falling back
// to the remote address when auth is disabled.
func (l *SubjectRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := UserIDFromContext(r.Context())
		if !ok {
			subject = r.RemoteAddr
		}
		allowed, retryAfter := l.Allow(subject)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, NewError(ErrRateLimited, "too many requests, slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
