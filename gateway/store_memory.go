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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used in development and tests.
// Reads return copies so callers cannot mutate committed traces.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	traces   map[string][]Trace
	risks    map[string][]Risk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		traces:   make(map[string][]Trace),
		risks:    make(map[string][]Risk),
	}
}

// CreateSession implements Store.
func (s *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := s.sessions[session.ID]; exists {
		return NewError(ErrConflict, fmt.Sprintf("session %s already exists", session.ID))
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	session.State = SessionActive
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	copied := *session
	return &copied, nil
}

// CompleteSession implements Store.
func (s *MemoryStore) CompleteSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	if session.State != SessionActive {
		return nil, NewError(ErrConflict, fmt.Sprintf("session %s is %s, not active", id, session.State))
	}
	now := time.Now().UTC()
	session.State = SessionCompleted
	session.EndedAt = &now
	copied := *session
	return &copied, nil
}

// ListTraces implements Store.
func (s *MemoryStore) ListTraces(ctx context.Context, sessionID string) ([]Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	out := make([]Trace, len(s.traces[sessionID]))
	copy(out, s.traces[sessionID])
	return out, nil
}

// ListRisks implements Store.
func (s *MemoryStore) ListRisks(ctx context.Context, sessionID string) ([]Risk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	out := make([]Risk, len(s.risks[sessionID]))
	copy(out, s.risks[sessionID])
	return out, nil
}

// BeginInteraction implements Store. Staged writes live on the tx and only
// reach the maps on Commit, under the store lock, so either both traces of
// an interaction appear or neither does.
func (s *MemoryStore) BeginInteraction(ctx context.Context, sessionID string) (InteractionTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != SessionActive {
		return nil, NewError(ErrConflict, fmt.Sprintf("session %s is %s, not active", sessionID, session.State))
	}
	return &memoryTx{
		store:   s,
		session: session,
		baseSeq: len(s.traces[sessionID]),
	}, nil
}

// AbortIdleSessions implements Store.
func (s *MemoryStore) AbortIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aborted := 0
	now := time.Now().UTC()
	for id, session := range s.sessions {
		if session.State != SessionActive {
			continue
		}
		last := session.StartedAt
		if traces := s.traces[id]; len(traces) > 0 {
			last = traces[len(traces)-1].CreatedAt
		}
		if last.Before(cutoff) {
			session.State = SessionAborted
			ended := now
			session.EndedAt = &ended
			aborted++
		}
	}
	return aborted, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	store   *MemoryStore
	session *Session
	baseSeq int
	traces  []Trace
	risks   []Risk
	done    bool
}

func (tx *memoryTx) Session() *Session { return tx.session }

func (tx *memoryTx) AppendTrace(ctx context.Context, trace *Trace) error {
	if err := validateTrace(trace); err != nil {
		return err
	}
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	trace.SessionID = tx.session.ID
	trace.SequenceNumber = tx.baseSeq + len(tx.traces) + 1
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}
	tx.traces = append(tx.traces, *trace)
	return nil
}

func (tx *memoryTx) AppendRisk(ctx context.Context, risk *Risk) error {
	if risk.ID == "" {
		risk.ID = uuid.NewString()
	}
	risk.SessionID = tx.session.ID
	if risk.DetectedAt.IsZero() {
		risk.DetectedAt = time.Now().UTC()
	}
	tx.risks = append(tx.risks, *risk)
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		tx.done = true
		return WrapError(ErrTimeout, "interaction deadline elapsed before commit", err)
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[tx.session.ID]
	if !ok {
		return NewError(ErrSessionNotFound, fmt.Sprintf("session %s vanished", tx.session.ID))
	}
	s.traces[tx.session.ID] = append(s.traces[tx.session.ID], tx.traces...)
	s.risks[tx.session.ID] = append(s.risks[tx.session.ID], tx.risks...)
	session.TraceCount += len(tx.traces)
	session.RiskCount += len(tx.risks)
	if status := deriveCognitiveStatus(tx.traces); status != nil {
		session.CognitiveStatus = status
	}
	tx.done = true
	return nil
}

func (tx *memoryTx) Rollback() error {
	tx.done = true
	tx.traces = nil
	tx.risks = nil
	return nil
}

// validateTrace enforces the recorder's field checks.
func validateTrace(trace *Trace) error {
	if !ValidTraceLevel(trace.Level) {
		return ValidationError("trace_level", fmt.Sprintf("unknown trace level %q", trace.Level))
	}
	if !ValidInteractionType(trace.InteractionType) {
		return ValidationError("interaction_type", fmt.Sprintf("unknown interaction type %q", trace.InteractionType))
	}
	if trace.AIInvolvement < 0 || trace.AIInvolvement > 1 {
		return ValidationError("ai_involvement", fmt.Sprintf("must be in [0,1], got %v", trace.AIInvolvement))
	}
	return nil
}
