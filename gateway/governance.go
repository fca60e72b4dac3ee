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

// GovernanceDecision is the filter's verdict kind.
type GovernanceDecision string

const (
	DecisionPass  GovernanceDecision = "pass"
	DecisionWarn  GovernanceDecision = "warn"
	DecisionBlock GovernanceDecision = "block"
)

// GovernanceResult is the filter's output. SanitizedText is always set on
// Pass and Warn; BlockMessage, BlockReason and Risk only on Block.
type GovernanceResult struct {
	Decision       GovernanceDecision
	SanitizedText  string
	PIIDetected    bool
	PIITypes       []string
	Adjustments    []string
	ActionRequired string
	BlockMessage   string
	BlockReason    string
	Risk           *Risk
}

// Blocked reports whether the interaction must not reach the LLM.
func (r *GovernanceResult) Blocked() bool { return r.Decision == DecisionBlock }

// delegationRedirectMessage is the canonical pedagogical redirect returned
// on a total-delegation block. It contains no code by construction.
const delegationRedirectMessage = "No puedo darte la solución completa, porque resolverla es " +
	"precisamente lo que te hará aprender. Empecemos por partes: ¿qué entiendes del problema " +
	"hasta ahora y cuál sería tu primer paso? Si me cuentas qué intentaste, puedo orientarte " +
	"desde ahí."

// GovernanceFilter gates each interaction before agent dispatch: PII
// sanitation, delegation blocking, then quantitative policy checks. It
// writes no traces; the pipeline persists its effects.
type GovernanceFilter struct {
	pii *PIIDetector
}

// NewGovernanceFilter wires the filter with its PII detector.
func NewGovernanceFilter(pii *PIIDetector) *GovernanceFilter {
	return &GovernanceFilter{pii: pii}
}

// Evaluate runs the three checks in sequence, failing fast on Block.
// Sanitation applies first so even blocked interactions carry a redacted
// text for the compliance record.
func (f *GovernanceFilter) Evaluate(trace *Trace, policy Policy, classifier ClassifierOutput, sequence *TraceSequence) *GovernanceResult {
	pii := f.pii.Sanitize(trace.Content)
	result := &GovernanceResult{
		Decision:      DecisionPass,
		SanitizedText: pii.Sanitized,
		PIIDetected:   pii.Detected,
		PIITypes:      pii.Types,
	}

	if policy.BlockCompleteSolutions && classifier.IsTotalDelegation {
		result.Decision = DecisionBlock
		result.ActionRequired = "block_and_redirect"
		result.BlockMessage = delegationRedirectMessage
		result.BlockReason = "total_delegation"
		result.Risk = &Risk{
			SessionID:   trace.SessionID,
			TraceIDs:    []string{trace.ID},
			Type:        RiskCognitiveDelegation,
			Level:       RiskHigh,
			Dimension:   DimensionCognitive,
			Description: "Student requested a complete solution, delegating the cognitive work entirely.",
			Impact:      "The student skips the reasoning the activity is designed to exercise.",
			Evidence:    []string{truncateEvidence(pii.Sanitized, 200)},
			Recommendations: []string{
				"Redirigir con preguntas socráticas en lugar de entregar código.",
				"Pedir al estudiante que describa su propio intento antes de ayudar.",
			},
			PedagogicalIntervention: delegationRedirectMessage,
		}
		return result
	}

	if sequence != nil && sequence.AIDependencyScore > policy.MaxAIDependency && len(sequence.Traces) > 0 {
		result.Decision = DecisionWarn
		result.ActionRequired = "reduce_ai_dependency"
		result.Adjustments = append(result.Adjustments, "reduce_ai_dependency")
	}

	if policy.RequireTraceability && (sequence == nil || len(sequence.Traces) == 0) {
		result.Decision = DecisionBlock
		result.ActionRequired = "record_traceability"
		result.BlockMessage = "Esta actividad requiere trazabilidad: registra tu razonamiento antes de pedir ayuda a la IA."
		result.BlockReason = "traceability_violation"
		return result
	}

	return result
}

// SanitizeText rewrites PII in arbitrary LLM-bound text. The pipeline
// applies it to history it replays into provider calls.
func (f *GovernanceFilter) SanitizeText(text string) string {
	return f.pii.Sanitize(text).Sanitized
}

func truncateEvidence(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
