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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tutorgate/platform/shared/logger"
)

// Request size bounds.
const (
	minPromptLength  = 10
	maxPromptLength  = 5000
	maxContextBytes  = 100 * 1024
	maxRequestBytes  = 150 * 1024
	maxRepeatedChars = 50
	maxLineLength    = 1000
)

// injectionMarkers is the closed list of prompt-injection prefixes the
// gateway refuses outright.
var injectionMarkers = []string{
	"ignore previous",
	"ignore all previous",
	"disregard previous",
	"disregard all previous",
	"system:",
	"assistant:",
	"you are now",
	"olvida las instrucciones",
	"ignora las instrucciones",
}

// Handlers binds the HTTP surface to the pipeline and store.
type Handlers struct {
	pipeline      *Pipeline
	store         Store
	policyDefault Policy
	log           *logger.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(pipeline *Pipeline, store Store, policyDefault Policy) *Handlers {
	return &Handlers{
		pipeline:      pipeline,
		store:         store,
		policyDefault: policyDefault,
		log:           logger.New("http"),
	}
}

// RegisterRoutes attaches the API to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}/interactions", h.ProcessInteraction).Methods("POST")
	r.HandleFunc("/sessions/{id}/traces", h.ListTraces).Methods("GET")
	r.HandleFunc("/sessions/{id}/risks", h.ListRisks).Methods("GET")
	r.HandleFunc("/sessions/{id}/complete", h.CompleteSession).Methods("POST")
}

type createSessionRequest struct {
	StudentID     string `json:"student_id"`
	ActivityID    string `json:"activity_id"`
	Mode          string `json:"mode"`
	SimulatorType string `json:"simulator_type,omitempty"`
}

// CreateSession handles POST /sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.StudentID == "" {
		writeError(w, ValidationError("student_id", "required"))
		return
	}
	if req.ActivityID == "" {
		writeError(w, ValidationError("activity_id", "required"))
		return
	}
	mode := SessionMode(req.Mode)
	if !ValidSessionMode(mode) {
		writeError(w, ValidationError("mode", fmt.Sprintf("unknown mode %q", req.Mode)))
		return
	}
	if mode == ModeSimulator && req.SimulatorType == "" {
		writeError(w, ValidationError("simulator_type", "required for simulator mode"))
		return
	}

	session := &Session{
		StudentID:     req.StudentID,
		ActivityID:    req.ActivityID,
		Mode:          mode,
		SimulatorType: req.SimulatorType,
		Policy:        h.policyDefault,
	}
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}
	promActiveSessions.Inc()
	h.log.Info(session.ID, "", "session created", map[string]interface{}{
		"student_id":  session.StudentID,
		"activity_id": session.ActivityID,
		"mode":        string(session.Mode),
	})
	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ProcessInteraction handles POST /sessions/{id}/interactions, the core
// entry point. Blocked interactions return 200 with blocked=true so the
// pedagogical message reaches the student.
func (h *Handlers) ProcessInteraction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req InteractionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validatePrompt(req.Prompt); err != nil {
		writeError(w, err)
		return
	}
	if size := contextSize(req.Context); size > maxContextBytes {
		writeError(w, ValidationError("context", fmt.Sprintf("serialized context is %d bytes, max %d", size, maxContextBytes)))
		return
	}

	result, err := h.pipeline.ProcessInteraction(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListTraces handles GET /sessions/{id}/traces.
func (h *Handlers) ListTraces(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	seq, err := h.pipeline.GetSequence(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

// ListRisks handles GET /sessions/{id}/risks.
func (h *Handlers) ListRisks(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	risks, err := h.store.ListRisks(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"risks":      risks,
		"count":      len(risks),
	})
}

// CompleteSession handles POST /sessions/{id}/complete.
func (h *Handlers) CompleteSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.CompleteSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	promActiveSessions.Dec()
	writeJSON(w, http.StatusOK, session)
}

// validatePrompt runs the pre-pipeline checks: length bounds, injection
// markers, repeated-character floods, and over-long lines.
func validatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	length := len([]rune(trimmed))
	if length < minPromptLength {
		return ValidationError("prompt", fmt.Sprintf("must be at least %d characters", minPromptLength))
	}
	if length > maxPromptLength {
		return ValidationError("prompt", fmt.Sprintf("must be at most %d characters", maxPromptLength))
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return ValidationError("prompt", "contains a disallowed instruction pattern")
		}
	}

	if hasRepeatedRun(trimmed, maxRepeatedChars) {
		return ValidationError("prompt", fmt.Sprintf("contains more than %d consecutive repeated characters", maxRepeatedChars))
	}

	for _, line := range strings.Split(trimmed, "\n") {
		if strings.TrimSpace(line) != "" && len([]rune(line)) > maxLineLength {
			return ValidationError("prompt", fmt.Sprintf("contains a line longer than %d characters", maxLineLength))
		}
	}
	return nil
}

func hasRepeatedRun(s string, max int) bool {
	var last rune
	run := 0
	for _, r := range s {
		if r == last {
			run++
			if run > max {
				return true
			}
		} else {
			last = r
			run = 1
		}
	}
	return false
}

func contextSize(ctx map[string]string) int {
	if len(ctx) == 0 {
		return 0
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return maxContextBytes + 1
	}
	return len(data)
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ValidationError("body", "invalid JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps a pipeline error onto its HTTP shape. Internal causes
// stay server-side; the client sees the code and message only.
func writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	code := CodeOf(err)

	message := "internal error"
	var ge *Error
	if errors.As(err, &ge) && code != ErrInternal {
		message = ge.Message
		if ge.Detail != "" {
			message = ge.Detail + ": " + ge.Message
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"error":     string(code),
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
