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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func sessionColumns() []string {
	return []string{"id", "student_id", "activity_id", "mode", "simulator_type", "state",
		"started_at", "ended_at", "trace_count", "risk_count", "policy", "cognitive_status"}
}

func sessionRow(mock sqlmock.Sqlmock, id string, traceCount int) *sqlmock.Rows {
	policy, _ := json.Marshal(DefaultPolicy())
	return sqlmock.NewRows(sessionColumns()).
		AddRow(id, "student-1", "activity-1", "tutor", nil, "active",
			time.Now(), nil, traceCount, 0, policy, nil)
}

func TestPostgresBeginInteractionAcquiresAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, activity_id").
		WithArgs("sess-1").
		WillReturnRows(sessionRow(mock, "sess-1", 2))
	mock.ExpectQuery(`SELECT MAX\(sequence_number\)`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec("INSERT INTO traces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET trace_count").
		WithArgs(1, 0, sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginInteraction(ctx, "sess-1")
	if err != nil {
		t.Fatalf("BeginInteraction: %v", err)
	}

	trace := &Trace{
		Level:           LevelN4Cognitive,
		InteractionType: InteractionStudentPrompt,
		Content:         "¿qué es una pila?",
		CognitiveState:  StateExploration,
		AIInvolvement:   0.1,
	}
	if err := tx.AppendTrace(ctx, trace); err != nil {
		t.Fatalf("AppendTrace: %v", err)
	}
	if trace.SequenceNumber != 3 {
		t.Errorf("sequence = %d, want 3 (continues after committed head)", trace.SequenceNumber)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresBeginInteractionRejectsInactiveSession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	policy, _ := json.Marshal(DefaultPolicy())
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, activity_id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("sess-1", "student-1", "activity-1", "tutor", nil, "completed",
				time.Now(), time.Now(), 4, 0, policy, nil))
	mock.ExpectRollback()

	if _, err := store.BeginInteraction(context.Background(), "sess-1"); CodeOf(err) != ErrConflict {
		t.Errorf("error = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresCommitExpiredContextRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, activity_id").
		WithArgs("sess-1").
		WillReturnRows(sessionRow(mock, "sess-1", 0))
	mock.ExpectQuery(`SELECT MAX\(sequence_number\)`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectRollback()

	tx, err := store.BeginInteraction(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("BeginInteraction: %v", err)
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tx.Commit(expired); CodeOf(err) != ErrTimeout {
		t.Errorf("commit on expired context = %v, want timeout", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSchemaBootstrap(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// A fresh database gets the full schema in one round trip.
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := createGatewayTables(db); err != nil {
		t.Fatalf("createGatewayTables: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresGetSessionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectQuery("SELECT id, student_id, activity_id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(sessionColumns()))

	if _, err := store.GetSession(context.Background(), "ghost"); CodeOf(err) != ErrSessionNotFound {
		t.Errorf("error = %v, want session not found", err)
	}
}
