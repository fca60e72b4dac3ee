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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// RiskAnalyzer runs rule-based detection over a window of recent traces.
// Each rule covers one of the five dimensions and emits at most one Risk
// per window. The analyzer is idempotent: identical windows produce
// identical risk sets, and fingerprints let the pipeline deduplicate
// against already-persisted risks.
type RiskAnalyzer struct {
	window int
}

// DefaultRiskWindow is the number of most recent traces a detection pass
// considers.
const DefaultRiskWindow = 30

// Detection thresholds. Tuned against pilot-course sessions; a rule fires
// only on sustained signals, not single prompts.
const (
	delegationDensityThreshold    = 0.4
	meanInvolvementThreshold      = 0.7
	missingJustificationThreshold = 3
	stuckRepetitionThreshold      = 3
	policyViolationThreshold      = 2
)

// NewRiskAnalyzer builds an analyzer with the given window size.
func NewRiskAnalyzer(window int) *RiskAnalyzer {
	if window <= 0 {
		window = DefaultRiskWindow
	}
	return &RiskAnalyzer{window: window}
}

// CountPolicyViolations counts governance blocks within the analyzer's
// window. Blocked interactions leave their marker on the synthetic
// response trace, so the count survives process restarts.
func (a *RiskAnalyzer) CountPolicyViolations(traces []Trace) int {
	if len(traces) > a.window {
		traces = traces[len(traces)-a.window:]
	}
	violations := 0
	for _, t := range traces {
		if blocked, _ := t.Metadata["blocked"].(bool); blocked {
			violations++
		}
	}
	return violations
}

var (
	undisclosedAICue = regexp.MustCompile(`(?i)(lo\s+hice\s+(yo\s+)?sol[oa])|escrib(i|í)\s+todo\s+(yo|sin\s+ayuda)|(did|wrote)\s+(it|this)\s+(all\s+)?myself|without\s+(any\s+)?ai`)
	verbatimCopyCue  = regexp.MustCompile(`(?i)as\s+an\s+ai\s+(language\s+)?model|como\s+modelo\s+de\s+lenguaje|i\s+cannot\s+assist|certainly!\s|here'?s\s+the\s+(complete\s+)?code`)
	vulnerabilityCue = regexp.MustCompile(`(?i)eval\s*\(|exec\s*\(|os\.system|subprocess\.call|select\s+.*\s+from\s+.*\s*\+\s*|f?["'].*select\s+.*\{|innerhtml\s*=|pickle\.loads|md5\s*\(.*password|password\s*=\s*["'][^"']+["']`)
)

// Analyze runs every rule over the last window traces of the sequence and
// returns the detections not yet present in existing (by fingerprint).
func (a *RiskAnalyzer) Analyze(seq *TraceSequence, policyViolations int, existing []Risk) []Risk {
	if seq == nil || len(seq.Traces) == 0 {
		return nil
	}
	traces := seq.Traces
	if len(traces) > a.window {
		traces = traces[len(traces)-a.window:]
	}

	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[dedupKey(r.Type, r.Fingerprint)] = true
	}

	var detected []Risk
	add := func(r Risk) {
		r.SessionID = seq.SessionID
		r.Fingerprint = fingerprint(r.Type, r.Evidence)
		if seen[dedupKey(r.Type, r.Fingerprint)] {
			return
		}
		seen[dedupKey(r.Type, r.Fingerprint)] = true
		detected = append(detected, r)
	}

	a.cognitiveRules(traces, add)
	a.ethicalRules(traces, add)
	a.epistemicRules(traces, add)
	a.technicalRules(traces, add)
	a.governanceRules(policyViolations, add)

	return detected
}

// cognitiveRules: delegation density, mean involvement, missing
// justifications on inbound prompts.
func (a *RiskAnalyzer) cognitiveRules(traces []Trace, add func(Risk)) {
	var inbound, delegating, unjustified int
	var involvementSum float64
	var delegationEvidence []string

	for _, t := range traces {
		involvementSum += t.AIInvolvement
		if t.InteractionType != InteractionStudentPrompt {
			continue
		}
		inbound++
		if t.AIInvolvement >= TotalDelegationThreshold {
			delegating++
			delegationEvidence = append(delegationEvidence, evidenceRef(t))
		}
		if t.DecisionJustification == "" {
			unjustified++
		}
	}

	if inbound > 0 && float64(delegating)/float64(inbound) > delegationDensityThreshold {
		add(Risk{
			Type:        RiskCognitiveDelegation,
			Level:       RiskHigh,
			Dimension:   DimensionCognitive,
			Description: fmt.Sprintf("%d of %d recent prompts delegate the cognitive work to the AI.", delegating, inbound),
			Evidence:    delegationEvidence,
			Recommendations: []string{
				"Proponer que el estudiante formule su propio plan antes de cada consulta.",
			},
		})
	}

	if mean := involvementSum / float64(len(traces)); mean > meanInvolvementThreshold {
		add(Risk{
			Type:        RiskHighAIDependency,
			Level:       RiskMedium,
			Dimension:   DimensionCognitive,
			Description: fmt.Sprintf("Mean AI involvement over the window is %.2f, above %.2f.", mean, meanInvolvementThreshold),
			Evidence:    []string{fmt.Sprintf("mean_ai_involvement=%.3f window=%d", mean, len(traces))},
			Recommendations: []string{
				"Reducir el nivel de ayuda en las próximas intervenciones.",
			},
		})
	}

	if inbound >= missingJustificationThreshold && unjustified == inbound {
		add(Risk{
			Type:        RiskMissingJustification,
			Level:       RiskLow,
			Dimension:   DimensionCognitive,
			Description: fmt.Sprintf("%d consecutive prompts arrived without any decision justification.", unjustified),
			Evidence:    []string{fmt.Sprintf("unjustified_prompts=%d", unjustified)},
			Recommendations: []string{
				"Pedir al estudiante que registre por qué toma cada decisión.",
			},
		})
	}
}

// ethicalRules: undisclosed AI use, verbatim-copy markers.
func (a *RiskAnalyzer) ethicalRules(traces []Trace, add func(Risk)) {
	for _, t := range traces {
		if t.InteractionType != InteractionStudentPrompt && t.InteractionType != InteractionCodeCommit {
			continue
		}
		if undisclosedAICue.MatchString(t.Content) && t.AIInvolvement > 0.3 {
			add(Risk{
				Type:        RiskUndisclosedAIUse,
				Level:       RiskHigh,
				Dimension:   DimensionEthical,
				Description: "Student claims unaided work in a session with substantial AI involvement.",
				Evidence:    []string{evidenceRef(t)},
			})
			break
		}
	}
	for _, t := range traces {
		if t.InteractionType == InteractionCodeCommit && verbatimCopyCue.MatchString(t.Content) {
			add(Risk{
				Type:        RiskVerbatimCopy,
				Level:       RiskMedium,
				Dimension:   DimensionEthical,
				Description: "Submitted content carries markers of verbatim AI output.",
				Evidence:    []string{evidenceRef(t)},
			})
			break
		}
	}
}

// epistemicRules: repeated stuck states without interleaved exploration
// signal a student looping instead of revising their model.
func (a *RiskAnalyzer) epistemicRules(traces []Trace, add func(Risk)) {
	run := 0
	for _, t := range traces {
		switch t.CognitiveState {
		case StateStuck, StateFrustrated:
			run++
		case StateExploration, StatePlanning, StateReflection:
			run = 0
		}
		if run >= stuckRepetitionThreshold {
			add(Risk{
				Type:        RiskStagnation,
				Level:       RiskMedium,
				Dimension:   DimensionEpistemic,
				Description: fmt.Sprintf("%d consecutive stuck/frustrated states with no exploratory step between them.", run),
				Evidence:    []string{fmt.Sprintf("stuck_run=%d", run)},
				Recommendations: []string{
					"Intervención metacognitiva: revisar el enfoque en lugar de insistir.",
				},
			})
			return
		}
	}
}

// technicalRules: vulnerability markers in submitted code.
func (a *RiskAnalyzer) technicalRules(traces []Trace, add func(Risk)) {
	for _, t := range traces {
		if t.InteractionType != InteractionCodeCommit {
			continue
		}
		if vulnerabilityCue.MatchString(t.Content) {
			add(Risk{
				Type:        RiskVulnerableCode,
				Level:       RiskMedium,
				Dimension:   DimensionTechnical,
				Description: "Submitted code matches known vulnerability patterns.",
				Evidence:    []string{evidenceRef(t)},
			})
			return
		}
	}
}

// governanceRules: policy-violation count over the window.
func (a *RiskAnalyzer) governanceRules(violations int, add func(Risk)) {
	if violations >= policyViolationThreshold {
		add(Risk{
			Type:        RiskPolicyViolations,
			Level:       RiskHigh,
			Dimension:   DimensionGovernance,
			Description: fmt.Sprintf("%d policy violations within the detection window.", violations),
			Evidence:    []string{fmt.Sprintf("violations=%d", violations)},
		})
	}
}

// fingerprint hashes the risk type and its evidence so identical
// detections collapse to one persisted risk.
func fingerprint(riskType RiskType, evidence []string) string {
	h := sha256.New()
	h.Write([]byte(riskType))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(evidence, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func dedupKey(riskType RiskType, fp string) string {
	return string(riskType) + ":" + fp
}

// evidenceRef points at a trace without duplicating student content into
// the risk record.
func evidenceRef(t Trace) string {
	return fmt.Sprintf("trace:%s seq:%d", t.ID, t.SequenceNumber)
}
