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
	"time"
)

// InteractionTx is one pipeline transaction over a session: the inbound
// trace, the response trace, any risks, and the session counters commit
// or roll back together. AppendTrace assigns the next dense sequence
// number; traces are immutable once Commit returns.
type InteractionTx interface {
	// Session returns the session row as read under the transaction's lock.
	Session() *Session

	// AppendTrace validates and stages a trace, assigning its sequence
	// number and id. The trace is visible to readers only after Commit.
	AppendTrace(ctx context.Context, trace *Trace) error

	// AppendRisk stages a risk for the session.
	AppendRisk(ctx context.Context, risk *Risk) error

	// Commit atomically applies every staged write and bumps the
	// session's trace/risk counters.
	Commit(ctx context.Context) error

	// Rollback discards all staged writes. Safe to call after Commit.
	Rollback() error
}

// Store is the persistence port for sessions, traces and risks. The
// relational implementation backs the per-session lock with an advisory
// transaction lock so multi-process deployments keep trace ordering.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	CompleteSession(ctx context.Context, id string) (*Session, error)

	// ListTraces returns the session's traces ordered by sequence number.
	ListTraces(ctx context.Context, sessionID string) ([]Trace, error)

	// ListRisks returns the session's persisted risks, newest last.
	ListRisks(ctx context.Context, sessionID string) ([]Risk, error)

	// BeginInteraction opens the per-session transactional scope used by
	// the pipeline. The session must exist and be active.
	BeginInteraction(ctx context.Context, sessionID string) (InteractionTx, error)

	// AbortIdleSessions moves active sessions whose last activity (last
	// trace, or start when empty) predates cutoff to the aborted state.
	// Returns how many sessions were aborted.
	AbortIdleSessions(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// deriveCognitiveStatus summarizes the traces of one committed
// interaction into the session's open status map: the phase the student
// is in, an autonomy estimate (inverse of the delegation on their
// prompts), and a load label. Both stores apply it at commit.
func deriveCognitiveStatus(traces []Trace) map[string]string {
	if len(traces) == 0 {
		return nil
	}
	phase := traces[len(traces)-1].CognitiveState

	var delegation float64
	prompts := 0
	for _, t := range traces {
		if t.InteractionType == InteractionStudentPrompt {
			delegation += t.AIInvolvement
			prompts++
		}
	}
	autonomy := 1.0
	if prompts > 0 {
		autonomy = 1 - delegation/float64(prompts)
	}

	load := "moderate"
	switch phase {
	case StateStuck, StateFrustrated:
		load = "high"
	case StateExploration, StateReflection:
		load = "low"
	}

	return map[string]string{
		"current_phase":     string(phase),
		"autonomy_estimate": fmt.Sprintf("%.2f", autonomy),
		"cognitive_load":    load,
	}
}

// BuildSequence derives the TraceSequence view from an ordered trace list.
func BuildSequence(sessionID string, traces []Trace) *TraceSequence {
	seq := &TraceSequence{SessionID: sessionID, Traces: traces}
	var sum float64
	for i, t := range traces {
		seq.ReasoningPath = append(seq.ReasoningPath, t.CognitiveState)
		sum += t.AIInvolvement
		if i > 0 && traces[i-1].CognitiveState != t.CognitiveState {
			seq.StrategyChanges++
		}
	}
	if len(traces) > 0 {
		seq.AIDependencyScore = sum / float64(len(traces))
	}
	return seq
}
