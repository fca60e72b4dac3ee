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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore is the production Store. Traces are append-only; per-session
// ordering is enforced with a transaction-scoped advisory lock so multiple
// gateway processes cannot interleave sequence numbers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against databaseURL and
// ensures the gateway tables exist.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := createGatewayTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// createGatewayTables bootstraps the session, trace and risk tables on a
// fresh database.
func createGatewayTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) PRIMARY KEY,
		student_id VARCHAR(255) NOT NULL,
		activity_id VARCHAR(255) NOT NULL,
		mode VARCHAR(20) NOT NULL,
		simulator_type VARCHAR(50),
		state VARCHAR(20) NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		trace_count INTEGER NOT NULL DEFAULT 0,
		risk_count INTEGER NOT NULL DEFAULT 0,
		policy JSONB NOT NULL,
		cognitive_status JSONB
	);

	CREATE TABLE IF NOT EXISTS traces (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL REFERENCES sessions(id),
		sequence_number INTEGER NOT NULL,
		trace_level VARCHAR(20) NOT NULL,
		interaction_type VARCHAR(30) NOT NULL,
		content TEXT NOT NULL,
		cognitive_state VARCHAR(20) NOT NULL,
		ai_involvement DOUBLE PRECISION NOT NULL,
		decision_justification TEXT,
		metadata JSONB,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (session_id, sequence_number)
	);

	CREATE TABLE IF NOT EXISTS risks (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL REFERENCES sessions(id),
		risk_type VARCHAR(40) NOT NULL,
		risk_level VARCHAR(20) NOT NULL,
		dimension VARCHAR(20) NOT NULL,
		description TEXT NOT NULL,
		evidence TEXT[],
		fingerprint VARCHAR(64) NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		detected_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_session_id ON traces(session_id);
	CREATE INDEX IF NOT EXISTS idx_risks_session_id ON risks(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	`
	_, err := db.Exec(query)
	return err
}

// NewPostgresStoreWithDB wraps an existing handle (tests use sqlmock).
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close implements Store.
func (s *PostgresStore) Close() error { return s.db.Close() }

// DB exposes the pool for collaborators sharing the connection (the
// compliance log writes its own table).
func (s *PostgresStore) DB() *sql.DB { return s.db }

// CreateSession implements Store.
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	session.State = SessionActive

	policyJSON, err := json.Marshal(session.Policy)
	if err != nil {
		return WrapError(ErrInternal, "marshal policy snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, student_id, activity_id, mode, simulator_type, state, started_at, policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.StudentID, session.ActivityID, string(session.Mode),
		nullable(session.SimulatorType), string(session.State), session.StartedAt, policyJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return NewError(ErrConflict, fmt.Sprintf("session %s already exists", session.ID))
		}
		return WrapError(ErrInternal, "insert session", err)
	}
	return nil
}

// GetSession implements Store.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, student_id, activity_id, mode, simulator_type, state,
		       started_at, ended_at, trace_count, risk_count, policy, cognitive_status
		FROM sessions WHERE id = $1`, id), id)
}

// CompleteSession implements Store.
func (s *PostgresStore) CompleteSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET state = $1, ended_at = NOW()
		WHERE id = $2 AND state = $3
		RETURNING id, student_id, activity_id, mode, simulator_type, state,
		          started_at, ended_at, trace_count, risk_count, policy, cognitive_status`,
		string(SessionCompleted), id, string(SessionActive))

	session, err := scanSession(row, id)
	if err != nil && CodeOf(err) == ErrSessionNotFound {
		// Distinguish missing from not-active.
		if _, getErr := s.GetSession(ctx, id); getErr == nil {
			return nil, NewError(ErrConflict, fmt.Sprintf("session %s is not active", id))
		}
	}
	return session, err
}

// ListTraces implements Store.
func (s *PostgresStore) ListTraces(ctx context.Context, sessionID string) ([]Trace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence_number, trace_level, interaction_type,
		       content, cognitive_state, ai_involvement, decision_justification,
		       metadata, created_at
		FROM traces WHERE session_id = $1
		ORDER BY sequence_number ASC`, sessionID)
	if err != nil {
		return nil, WrapError(ErrInternal, "query traces", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var t Trace
		var justification sql.NullString
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SequenceNumber, &t.Level,
			&t.InteractionType, &t.Content, &t.CognitiveState, &t.AIInvolvement,
			&justification, &metadata, &t.CreatedAt); err != nil {
			return nil, WrapError(ErrInternal, "scan trace", err)
		}
		t.DecisionJustification = justification.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, WrapError(ErrInternal, "decode trace metadata", err)
			}
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// ListRisks implements Store.
func (s *PostgresStore) ListRisks(ctx context.Context, sessionID string) ([]Risk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, risk_type, risk_level, dimension, description,
		       evidence, fingerprint, resolved, detected_at
		FROM risks WHERE session_id = $1
		ORDER BY detected_at ASC`, sessionID)
	if err != nil {
		return nil, WrapError(ErrInternal, "query risks", err)
	}
	defer rows.Close()

	var risks []Risk
	for rows.Next() {
		var r Risk
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &r.Level, &r.Dimension,
			&r.Description, pq.Array(&r.Evidence), &r.Fingerprint, &r.Resolved,
			&r.DetectedAt); err != nil {
			return nil, WrapError(ErrInternal, "scan risk", err)
		}
		risks = append(risks, r)
	}
	return risks, rows.Err()
}

// BeginInteraction implements Store. The advisory lock keyed on the
// session id serializes concurrent interactions for the session across
// processes; it releases automatically with the transaction.
func (s *PostgresStore) BeginInteraction(ctx context.Context, sessionID string) (InteractionTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, WrapError(ErrInternal, "begin transaction", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		tx.Rollback()
		return nil, WrapError(ErrInternal, "acquire session lock", err)
	}

	session, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT id, student_id, activity_id, mode, simulator_type, state,
		       started_at, ended_at, trace_count, risk_count, policy, cognitive_status
		FROM sessions WHERE id = $1`, sessionID), sessionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if session.State != SessionActive {
		tx.Rollback()
		return nil, NewError(ErrConflict, fmt.Sprintf("session %s is %s, not active", sessionID, session.State))
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM traces WHERE session_id = $1`, sessionID).Scan(&maxSeq); err != nil {
		tx.Rollback()
		return nil, WrapError(ErrInternal, "read sequence head", err)
	}

	return &postgresTx{tx: tx, session: session, nextSeq: int(maxSeq.Int64) + 1}, nil
}

// AbortIdleSessions implements Store. Last activity is the newest trace,
// or the session start when no trace exists yet.
func (s *PostgresStore) AbortIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = $1, ended_at = NOW()
		WHERE state = $2
		  AND COALESCE(
		        (SELECT MAX(t.created_at) FROM traces t WHERE t.session_id = sessions.id),
		        started_at) < $3`,
		string(SessionAborted), string(SessionActive), cutoff)
	if err != nil {
		return 0, WrapError(ErrInternal, "abort idle sessions", err)
	}
	aborted, err := result.RowsAffected()
	if err != nil {
		return 0, WrapError(ErrInternal, "abort idle sessions", err)
	}
	return int(aborted), nil
}

type postgresTx struct {
	tx        *sql.Tx
	session   *Session
	nextSeq   int
	staged    []Trace
	riskCount int
	done      bool
}

func (t *postgresTx) Session() *Session { return t.session }

func (t *postgresTx) AppendTrace(ctx context.Context, trace *Trace) error {
	if err := validateTrace(trace); err != nil {
		return err
	}
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	trace.SessionID = t.session.ID
	trace.SequenceNumber = t.nextSeq
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(trace.Metadata)
	if err != nil {
		return WrapError(ErrInternal, "marshal trace metadata", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO traces (id, session_id, sequence_number, trace_level, interaction_type,
		                    content, cognitive_state, ai_involvement, decision_justification,
		                    metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		trace.ID, trace.SessionID, trace.SequenceNumber, string(trace.Level),
		string(trace.InteractionType), trace.Content, string(trace.CognitiveState),
		trace.AIInvolvement, nullable(trace.DecisionJustification), metadata, trace.CreatedAt)
	if err != nil {
		return WrapError(ErrInternal, "insert trace", err)
	}
	t.nextSeq++
	t.staged = append(t.staged, *trace)
	return nil
}

func (t *postgresTx) AppendRisk(ctx context.Context, risk *Risk) error {
	if risk.ID == "" {
		risk.ID = uuid.NewString()
	}
	risk.SessionID = t.session.ID
	if risk.DetectedAt.IsZero() {
		risk.DetectedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO risks (id, session_id, risk_type, risk_level, dimension,
		                   description, evidence, fingerprint, resolved, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		risk.ID, risk.SessionID, string(risk.Type), string(risk.Level),
		string(risk.Dimension), risk.Description, pq.Array(risk.Evidence),
		risk.Fingerprint, risk.Resolved, risk.DetectedAt)
	if err != nil {
		return WrapError(ErrInternal, "insert risk", err)
	}
	t.riskCount++
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		t.Rollback()
		return WrapError(ErrTimeout, "interaction deadline elapsed before commit", err)
	}

	var statusJSON []byte
	if status := deriveCognitiveStatus(t.staged); status != nil {
		encoded, err := json.Marshal(status)
		if err != nil {
			t.Rollback()
			return WrapError(ErrInternal, "marshal cognitive status", err)
		}
		statusJSON = encoded
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET trace_count = trace_count + $1, risk_count = risk_count + $2,
		       cognitive_status = COALESCE($3, cognitive_status)
		WHERE id = $4`, len(t.staged), t.riskCount, statusJSON, t.session.ID); err != nil {
		t.Rollback()
		return WrapError(ErrInternal, "update session counters", err)
	}

	t.done = true
	if err := t.tx.Commit(); err != nil {
		return WrapError(ErrInternal, "commit interaction", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// scanSession reads one session row, mapping sql.ErrNoRows onto the
// gateway's not-found error.
func scanSession(row *sql.Row, id string) (*Session, error) {
	var s Session
	var simulatorType sql.NullString
	var endedAt sql.NullTime
	var policyJSON, statusJSON []byte

	err := row.Scan(&s.ID, &s.StudentID, &s.ActivityID, &s.Mode, &simulatorType,
		&s.State, &s.StartedAt, &endedAt, &s.TraceCount, &s.RiskCount, &policyJSON, &statusJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	if err != nil {
		return nil, WrapError(ErrInternal, "scan session", err)
	}

	s.SimulatorType = simulatorType.String
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if len(policyJSON) > 0 {
		if err := json.Unmarshal(policyJSON, &s.Policy); err != nil {
			return nil, WrapError(ErrInternal, "decode policy snapshot", err)
		}
	}
	if len(statusJSON) > 0 {
		if err := json.Unmarshal(statusJSON, &s.CognitiveStatus); err != nil {
			return nil, WrapError(ErrInternal, "decode cognitive status", err)
		}
	}
	return &s, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
