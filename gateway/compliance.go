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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorgate/platform/shared/logger"
)

// ComplianceEntry records one governance decision for institutional audit:
// what the filter decided, what PII it rewrote, and which policy action it
// required. Prompt text is stored only as a hash.
type ComplianceEntry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	StudentID      string    `json:"student_id"`
	Timestamp      time.Time `json:"timestamp"`
	Decision       string    `json:"decision"`
	ActionRequired string    `json:"action_required,omitempty"`
	BlockReason    string    `json:"block_reason,omitempty"`
	PIITypes       []string  `json:"pii_types,omitempty"`
	PromptHash     string    `json:"prompt_hash"`
	AgentUsed      string    `json:"agent_used,omitempty"`
	TokensUsed     int       `json:"tokens_used"`
	LatencyMS      int64     `json:"latency_ms"`
}

// ComplianceLog accepts entries on a buffered queue and flushes them in
// batches off the request path. A full queue drops the entry with a log
// line rather than stalling the pipeline.
type ComplianceLog struct {
	db       *sql.DB // nil means log-only mode
	queue    chan *ComplianceEntry
	log      *logger.Logger
	wg       sync.WaitGroup
	shutdown chan struct{}

	batchSize     int
	flushInterval time.Duration
}

const (
	complianceQueueSize  = 10000
	complianceBatchSize  = 100
	complianceFlushEvery = 5 * time.Second
)

// NewComplianceLog ensures the audit table exists and starts the
// background flusher. db may be nil; entries then go to the structured
// log only, which keeps development setups free of a second database
// dependency.
func NewComplianceLog(db *sql.DB) (*ComplianceLog, error) {
	if db != nil {
		if err := createComplianceTable(db); err != nil {
			return nil, fmt.Errorf("compliance schema: %w", err)
		}
	}
	c := &ComplianceLog{
		db:            db,
		queue:         make(chan *ComplianceEntry, complianceQueueSize),
		log:           logger.New("compliance"),
		shutdown:      make(chan struct{}),
		batchSize:     complianceBatchSize,
		flushInterval: complianceFlushEvery,
	}
	c.wg.Add(1)
	go c.processQueue()
	return c, nil
}

// createComplianceTable bootstraps the audit table on a fresh database.
func createComplianceTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS compliance_log (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		student_id VARCHAR(255) NOT NULL,
		ts TIMESTAMP NOT NULL,
		decision VARCHAR(20) NOT NULL,
		action_required VARCHAR(100),
		block_reason VARCHAR(100),
		pii_types TEXT,
		prompt_hash VARCHAR(64) NOT NULL,
		agent_used VARCHAR(50),
		tokens_used INTEGER NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_compliance_log_session_id ON compliance_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_compliance_log_ts ON compliance_log(ts);
	`
	_, err := db.Exec(query)
	return err
}

// Record enqueues a governance decision. Non-blocking.
func (c *ComplianceLog) Record(entry *ComplianceEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case c.queue <- entry:
	default:
		c.log.Warn(entry.SessionID, "", "compliance queue full, dropping entry",
			map[string]interface{}{"decision": entry.Decision})
	}
}

// HashPrompt derives the audit-safe digest stored instead of prompt text.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:16])
}

// Close flushes pending entries and stops the worker.
func (c *ComplianceLog) Close() {
	close(c.shutdown)
	c.wg.Wait()
}

func (c *ComplianceLog) processQueue() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]*ComplianceEntry, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-c.queue:
			batch = append(batch, entry)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.shutdown:
			for {
				select {
				case entry := <-c.queue:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (c *ComplianceLog) writeBatch(batch []*ComplianceEntry) {
	if c.db == nil {
		for _, e := range batch {
			c.log.Info(e.SessionID, "", "governance decision", map[string]interface{}{
				"decision":        e.Decision,
				"action_required": e.ActionRequired,
				"block_reason":    e.BlockReason,
				"pii_types":       e.PIITypes,
				"prompt_hash":     e.PromptHash,
			})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.log.Error("", "", "compliance batch begin failed", map[string]interface{}{"error": err.Error()})
		return
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO compliance_log (id, session_id, student_id, ts, decision,
		                            action_required, block_reason, pii_types,
		                            prompt_hash, agent_used, tokens_used, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		tx.Rollback()
		c.log.Error("", "", "compliance batch prepare failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.ID, e.SessionID, e.StudentID, e.Timestamp,
			e.Decision, e.ActionRequired, e.BlockReason, joinOrNull(e.PIITypes),
			e.PromptHash, e.AgentUsed, e.TokensUsed, e.LatencyMS); err != nil {
			c.log.Error(e.SessionID, "", "compliance entry insert failed",
				map[string]interface{}{"error": err.Error()})
		}
	}
	if err := tx.Commit(); err != nil {
		c.log.Error("", "", "compliance batch commit failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.log.Debug("", "", "compliance batch flushed", map[string]interface{}{"entries": len(batch)})
}

func joinOrNull(parts []string) sql.NullString {
	if len(parts) == 0 {
		return sql.NullString{}
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return sql.NullString{String: out, Valid: true}
}
