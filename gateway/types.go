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
	"time"
)

// SessionMode selects the role-specific agent for a session.
type SessionMode string

const (
	ModeTutor     SessionMode = "tutor"
	ModeEvaluator SessionMode = "evaluator"
	ModeSimulator SessionMode = "simulator"
	ModeTraining  SessionMode = "training"
)

// ValidSessionMode reports whether m is one of the closed mode set.
func ValidSessionMode(m SessionMode) bool {
	switch m {
	case ModeTutor, ModeEvaluator, ModeSimulator, ModeTraining:
		return true
	}
	return false
}

// SessionState is the session lifecycle state.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
	SessionAborted   SessionState = "aborted"
	SessionPaused    SessionState = "paused"
)

// Session is the unit of ordering for the interaction pipeline.
// A session owns its traces and risks by composition; other entities
// reference it by id only.
type Session struct {
	ID              string            `json:"id"`
	StudentID       string            `json:"student_id"`
	ActivityID      string            `json:"activity_id"`
	Mode            SessionMode       `json:"mode"`
	SimulatorType   string            `json:"simulator_type,omitempty"`
	State           SessionState      `json:"state"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	TraceCount      int               `json:"trace_count"`
	RiskCount       int               `json:"risk_count"`
	Policy          Policy            `json:"policy"`
	CognitiveStatus map[string]string `json:"cognitive_status,omitempty"`
}

// TraceLevel is the four-level trace taxonomy: surface artifacts,
// code events, prompts/responses, and intent/justification.
type TraceLevel string

const (
	LevelN1Surface       TraceLevel = "n1_surface"
	LevelN2Technical     TraceLevel = "n2_technical"
	LevelN3Interactional TraceLevel = "n3_interactional"
	LevelN4Cognitive     TraceLevel = "n4_cognitive"
)

// ValidTraceLevel reports whether l is one of the closed level set.
func ValidTraceLevel(l TraceLevel) bool {
	switch l {
	case LevelN1Surface, LevelN2Technical, LevelN3Interactional, LevelN4Cognitive:
		return true
	}
	return false
}

// InteractionType classifies a trace entry.
type InteractionType string

const (
	InteractionStudentPrompt         InteractionType = "student_prompt"
	InteractionAIResponse            InteractionType = "ai_response"
	InteractionCodeCommit            InteractionType = "code_commit"
	InteractionTutorIntervention     InteractionType = "tutor_intervention"
	InteractionTeacherFeedback       InteractionType = "teacher_feedback"
	InteractionStrategyChange        InteractionType = "strategy_change"
	InteractionHypothesisFormulation InteractionType = "hypothesis_formulation"
	InteractionSelfCorrection        InteractionType = "self_correction"
	InteractionAICritique            InteractionType = "ai_critique"
)

// ValidInteractionType reports whether t is one of the closed type set.
func ValidInteractionType(t InteractionType) bool {
	switch t {
	case InteractionStudentPrompt, InteractionAIResponse, InteractionCodeCommit,
		InteractionTutorIntervention, InteractionTeacherFeedback, InteractionStrategyChange,
		InteractionHypothesisFormulation, InteractionSelfCorrection, InteractionAICritique:
		return true
	}
	return false
}

// CognitiveState is the closed-set label describing the student's
// momentary activity as detected by the classifier.
type CognitiveState string

const (
	StateExploration    CognitiveState = "exploration"
	StatePlanning       CognitiveState = "planning"
	StateImplementation CognitiveState = "implementation"
	StateDebugging      CognitiveState = "debugging"
	StateValidation     CognitiveState = "validation"
	StateReflection     CognitiveState = "reflection"
	StateStuck          CognitiveState = "stuck"
	StateFrustrated     CognitiveState = "frustrated"
	StateUnknown        CognitiveState = "unknown"
)

// Trace is one immutable entry in a session's four-level cognitive record.
// Once persisted a trace is never mutated; sequence numbers are dense and
// strictly increasing from 1 within a session.
type Trace struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id"`
	SequenceNumber  int               `json:"sequence_number"`
	Level           TraceLevel        `json:"trace_level"`
	InteractionType InteractionType   `json:"interaction_type"`
	Content         string            `json:"content"`
	Context         map[string]string `json:"context,omitempty"`
	CognitiveState  CognitiveState    `json:"cognitive_state"`
	AIInvolvement   float64           `json:"ai_involvement"`

	DecisionJustification  string   `json:"decision_justification,omitempty"`
	AlternativesConsidered []string `json:"alternatives_considered,omitempty"`

	// The six optional N4 dimension maps; the recorder stores them opaque.
	Semantic           map[string]interface{} `json:"semantic,omitempty"`
	Algorithmic        map[string]interface{} `json:"algorithmic,omitempty"`
	CognitiveReasoning map[string]interface{} `json:"cognitive_reasoning,omitempty"`
	Interactional      map[string]interface{} `json:"interactional,omitempty"`
	EthicalRisk        map[string]interface{} `json:"ethical_risk,omitempty"`
	Process            map[string]interface{} `json:"process,omitempty"`

	// Metadata carries pipeline annotations (pii_detected, generated_with_llm).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TraceSequence is a derived view over one session's traces, rebuilt on
// demand by the recorder.
type TraceSequence struct {
	SessionID         string           `json:"session_id"`
	Traces            []Trace          `json:"traces"`
	ReasoningPath     []CognitiveState `json:"reasoning_path"`
	StrategyChanges   int              `json:"strategy_changes"`
	AIDependencyScore float64          `json:"ai_dependency_score"`
}

// RiskType is the closed set of detectable over-reliance risks.
type RiskType string

const (
	RiskCognitiveDelegation  RiskType = "cognitive_delegation"
	RiskHighAIDependency     RiskType = "high_ai_dependency"
	RiskMissingJustification RiskType = "missing_justification"
	RiskUndisclosedAIUse     RiskType = "undisclosed_ai_use"
	RiskVerbatimCopy         RiskType = "verbatim_copy"
	RiskStagnation           RiskType = "stagnation"
	RiskVulnerableCode       RiskType = "vulnerable_code"
	RiskPolicyViolations     RiskType = "policy_violations"
)

// RiskLevel orders risk severity.
type RiskLevel string

const (
	RiskInfo     RiskLevel = "info"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskLevelOrder supports threshold comparisons.
var riskLevelOrder = map[RiskLevel]int{
	RiskInfo: 1, RiskLow: 2, RiskMedium: 3, RiskHigh: 4, RiskCritical: 5,
}

// AtLeast reports whether l is at least as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskLevelOrder[l] >= riskLevelOrder[other]
}

// RiskDimension is the five-axis schema for AI-use risk in education.
type RiskDimension string

const (
	DimensionCognitive  RiskDimension = "cognitive"
	DimensionEthical    RiskDimension = "ethical"
	DimensionEpistemic  RiskDimension = "epistemic"
	DimensionTechnical  RiskDimension = "technical"
	DimensionGovernance RiskDimension = "governance"
)

// Risk records a detected over-reliance signal for a session.
type Risk struct {
	ID                      string        `json:"id"`
	SessionID               string        `json:"session_id"`
	TraceIDs                []string      `json:"trace_ids,omitempty"`
	Type                    RiskType      `json:"risk_type"`
	Level                   RiskLevel     `json:"risk_level"`
	Dimension               RiskDimension `json:"dimension"`
	Description             string        `json:"description"`
	Impact                  string        `json:"impact,omitempty"`
	Evidence                []string      `json:"evidence,omitempty"`
	Recommendations         []string      `json:"recommendations,omitempty"`
	PedagogicalIntervention string        `json:"pedagogical_intervention,omitempty"`

	// Fingerprint deduplicates detections of the same risk within a window.
	Fingerprint string `json:"fingerprint"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Policy is the immutable snapshot attached to a session at creation.
type Policy struct {
	MaxAIAssistanceLevel   float64 `json:"max_ai_assistance_level" yaml:"max_ai_assistance_level"`
	BlockCompleteSolutions bool    `json:"block_complete_solutions" yaml:"block_complete_solutions"`
	RequireJustification   bool    `json:"require_justification" yaml:"require_justification"`
	AllowCodeSnippets      bool    `json:"allow_code_snippets" yaml:"allow_code_snippets"`
	RequireTraceability    bool    `json:"require_traceability" yaml:"require_traceability"`
	MaxAIDependency        float64 `json:"max_ai_dependency" yaml:"max_ai_dependency"`

	// RiskThresholds maps each dimension to the level that triggers
	// escalation; unset dimensions default to "high".
	RiskThresholds map[RiskDimension]RiskLevel `json:"risk_thresholds,omitempty" yaml:"risk_thresholds,omitempty"`
}

// DefaultPolicy is the institution-neutral baseline. The assistance
// ceiling starts low; institutions raise it per activity when scaffolding
// calls for richer hints.
func DefaultPolicy() Policy {
	return Policy{
		MaxAIAssistanceLevel:   0.4,
		BlockCompleteSolutions: true,
		RequireJustification:   false,
		AllowCodeSnippets:      true,
		RequireTraceability:    false,
		MaxAIDependency:        0.6,
	}
}

// RequestType is the dominant cue family of a student prompt.
type RequestType string

const (
	RequestConceptual     RequestType = "conceptual"
	RequestImplementation RequestType = "implementation"
	RequestDebugging      RequestType = "debugging"
	RequestValidation     RequestType = "validation"
	RequestReflection     RequestType = "reflection"
)

// ClassifierOutput is the result of cognitive-pedagogical classification.
type ClassifierOutput struct {
	CognitiveState    CognitiveState `json:"cognitive_state"`
	CognitiveIntent   string         `json:"cognitive_intent"`
	DelegationLevel   float64        `json:"delegation_level"`
	IsTotalDelegation bool           `json:"is_total_delegation"`
	RequestType       RequestType    `json:"request_type"`
	SuggestedStrategy StrategyHint   `json:"suggested_strategy"`
}

// StrategyHint is the classifier's Intervention-shaped suggestion.
type StrategyHint struct {
	Mode      string `json:"mode"`
	HelpLevel string `json:"help_level"`
}

// InteractionResult is what ProcessInteraction returns to the caller.
type InteractionResult struct {
	InteractionID          string         `json:"interaction_id"`
	Message                string         `json:"message"`
	AgentUsed              string         `json:"agent_used"`
	CognitiveStateDetected CognitiveState `json:"cognitive_state_detected"`
	AIInvolvement          float64        `json:"ai_involvement"`
	Blocked                bool           `json:"blocked"`
	BlockReason            string         `json:"block_reason,omitempty"`
	TraceID                string         `json:"trace_id"`
	RisksDetected          []Risk         `json:"risks_detected,omitempty"`
	TokensUsed             int            `json:"tokens_used,omitempty"`
	GeneratedWithLLM       bool           `json:"generated_with_llm"`
}
