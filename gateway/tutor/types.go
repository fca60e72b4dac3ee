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

// Package tutor implements the pedagogical agent: a registry of tutoring
// strategies, each with a generative LLM path and a deterministic template
// path. Strategies never provide executable code; the most they offer is
// pseudocode at the upper help levels.
package tutor

import (
	"time"
)

// StrategyMode identifies a tutoring strategy.
type StrategyMode string

const (
	ModeSocratic      StrategyMode = "socratic"
	ModeExplicative   StrategyMode = "explicative"
	ModeGuided        StrategyMode = "guided"
	ModeMetacognitive StrategyMode = "metacognitive"
	ModeClarification StrategyMode = "clarification"
)

// HelpLevel graduates how much substance an intervention carries.
type HelpLevel string

const (
	HelpMinimal HelpLevel = "minimal"
	HelpLow     HelpLevel = "low"
	HelpMedium  HelpLevel = "medium"
	HelpHigh    HelpLevel = "high"
)

// AIInvolvement maps a help level onto the outbound trace's ai_involvement.
func (h HelpLevel) AIInvolvement() float64 {
	switch h {
	case HelpMinimal:
		return 0.1
	case HelpLow:
		return 0.25
	case HelpMedium:
		return 0.5
	case HelpHigh:
		return 0.75
	}
	return 0.25
}

// AllowsPseudocode reports whether pseudocode may appear at this level.
func (h HelpLevel) AllowsPseudocode() bool {
	return h == HelpMedium || h == HelpHigh
}

// hintIndex positions a help level on the 1..4 guided hint scale.
func (h HelpLevel) hintIndex() int {
	switch h {
	case HelpMinimal:
		return 1
	case HelpLow:
		return 2
	case HelpMedium:
		return 3
	case HelpHigh:
		return 4
	}
	return 2
}

// Pedagogical intents, one per strategy.
const (
	IntentDecomposition  = "promote_decomposition_and_planning"
	IntentUnderstanding  = "conceptual_understanding"
	IntentScaffolding    = "scaffolding"
	IntentSelfReflection = "promote_self_reflection"
	IntentSpecificity    = "promote_specificity"
)

// HintType tags a guided hint's nature.
type HintType string

const (
	HintQuestion      HintType = "question"
	HintConceptual    HintType = "conceptual"
	HintDecomposition HintType = "decomposition"
	HintStrategy      HintType = "strategy"
	HintPseudocode    HintType = "pseudocode"
	HintPattern       HintType = "pattern"
	HintFragment      HintType = "fragment"
)

// Hint is one graduated step of guided help.
type Hint struct {
	Level   int      `json:"level"`
	Type    HintType `json:"type"`
	Content string   `json:"content"`
}

// Metadata annotates an intervention. ProvidesCode is false for every
// strategy; it is carried explicitly so downstream checks can assert it.
type Metadata struct {
	CognitiveState   string `json:"cognitive_state"`
	ProvidesCode     bool   `json:"provides_code"`
	GeneratedWithLLM bool   `json:"generated_with_llm"`
	TokensUsed       int    `json:"tokens_used,omitempty"`
}

// Intervention is the tutor's single response to a student prompt.
type Intervention struct {
	Mode                    StrategyMode `json:"mode"`
	HelpLevel               HelpLevel    `json:"help_level"`
	PedagogicalIntent       string       `json:"pedagogical_intent"`
	Message                 string       `json:"message"`
	RequiresStudentResponse bool         `json:"requires_student_response"`
	Questions               []string     `json:"questions,omitempty"`
	Hints                   []Hint       `json:"hints_provided,omitempty"`
	RequiresJustification   bool         `json:"requires_justification"`
	Metadata                Metadata     `json:"metadata"`
	Latency                 time.Duration `json:"-"`
}

// StudentProfile summarizes the session history relevant to strategy
// selection and help graduation.
type StudentProfile struct {
	HintsReceived       int
	AIInvolvementAvg    float64
	AutonomousSolutions int
}

// Context is everything a strategy sees: the (sanitized) prompt, the
// classifier's reading, a bounded slice of recent exchanges, and the
// student's computed profile. Strategies are pure mappings Context to
// Intervention apart from the optional LLM call.
type Context struct {
	SessionID      string
	SessionMode    string
	Prompt         string
	CognitiveState string
	CognitiveIntent string
	RequestType    string
	DelegationLevel float64
	HelpLevel      HelpLevel
	RecentExchanges []Exchange
	Profile        StudentProfile
	ActivityTopic  string
}

// Exchange is one prior prompt/response pair, newest last.
type Exchange struct {
	StudentPrompt string
	TutorMessage  string
}

// MaxRecentExchanges bounds the history a strategy may consider.
const MaxRecentExchanges = 20
