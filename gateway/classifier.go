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
	"regexp"
	"strings"
)

// Classifier maps a student prompt plus session history onto a cognitive
// state, a delegation level, and a suggested tutoring strategy. It is a
// pure function of its inputs: no randomness, no LLM calls, bounded time.
type Classifier struct {
	delegationPatterns []delegationPattern
	stateRules         []stateRule
}

// delegationPattern scores one phrase family of cognitive offloading.
// Scores across matched patterns sum and clamp to 1.
type delegationPattern struct {
	name    string
	pattern *regexp.Regexp
	weight  float64
}

// stateRule maps prompt cues to a cognitive state. Rules are evaluated in
// declaration order and the first match wins.
type stateRule struct {
	state   CognitiveState
	pattern *regexp.Regexp
}

// TotalDelegationThreshold marks a prompt as full cognitive offloading.
const TotalDelegationThreshold = 0.7

// minClassifiablePromptLength is the trimmed length below which the
// classifier refuses to guess and reports unknown.
const minClassifiablePromptLength = 10

// NewClassifier builds a classifier with the documented pattern tables.
// Prompts arrive in Spanish or English; both vocabularies are covered.
func NewClassifier() *Classifier {
	return &Classifier{
		delegationPatterns: []delegationPattern{
			{
				name:    "full_code_request",
				pattern: regexp.MustCompile(`(?i)(dame|pasame|escribe|genera|hazme)\s+(el\s+)?(codigo|código)\s+(completo|entero)|give\s+me\s+the\s+(full|complete|entire)\s+code|write\s+the\s+whole\s+(program|code)`),
				weight:  0.7,
			},
			{
				name:    "do_it_for_me",
				pattern: regexp.MustCompile(`(?i)hazlo\s+(tu|tú|por\s+mi|por\s+mí)|do\s+it\s+for\s+me|hazme\s+la\s+tarea|solve\s+(this|it)\s+for\s+me`),
				weight:  0.7,
			},
			{
				name:    "solve_request",
				pattern: regexp.MustCompile(`(?i)(resuelve|soluciona|solucioname|resuelveme)\b|\bsolve\s+this\b`),
				weight:  0.5,
			},
			{
				name:    "complete_solution",
				pattern: regexp.MustCompile(`(?i)(solucion|solución|respuesta|answer|solution)\s+(completa|entera|final|complete|full)`),
				weight:  0.5,
			},
			{
				name:    "imperative_code",
				pattern: regexp.MustCompile(`(?i)^(dame|escribe|genera|implementa|programa|crea|haz)\b|^(write|generate|implement|create|make|code)\b`),
				weight:  0.3,
			},
			{
				name:    "no_attempt_marker",
				pattern: regexp.MustCompile(`(?i)no\s+(se|sé)\s+(por\s+donde|por\s+dónde|como|cómo)\s+empezar.*(hazlo|dame)|i\s+haven'?t\s+tried\s+anything`),
				weight:  0.3,
			},
		},
		stateRules: []stateRule{
			// Frustration dominates: an exasperated student needs the
			// metacognitive redirect before anything else.
			{StateFrustrated, regexp.MustCompile(`(?i)(estoy\s+(harto|harta|frustrad))|no\s+puedo\s+m(a|á)s|esto\s+es\s+imposible|i\s+give\s+up|this\s+is\s+impossible|so\s+frustrat`)},
			{StateStuck, regexp.MustCompile(`(?i)(estoy\s+(atascad|atorad|trabad))|no\s+(se|sé)\s+(que|qué|como|cómo)\s+(hacer|seguir|continuar)|llevo\s+horas|i'?m\s+stuck|don'?t\s+know\s+(what|how)\s+to\s+(do|continue)`)},
			{StateDebugging, regexp.MustCompile(`(?i)(error|excepcion|excepción|exception|traceback|stack\s*trace|segfault|nullpointer)|no\s+funciona|por\s*qu(e|é)\s+(no\s+)?(funciona|falla)|why\s+(doesn'?t|does\s+not|isn'?t)\s+(it|this|my\s+code)\s+work|\bbug\b|\bfalla\b`)},
			{StateValidation, regexp.MustCompile(`(?i)(esta|está|es)\s+(bien|correcto|correcta)\b|revisa(me)?\s|verifica|compru(e|é)ba|is\s+(this|it|my\s+\w+)\s+(correct|right|ok)|can\s+you\s+(check|review|verify)`)},
			{StateReflection, regexp.MustCompile(`(?i)(por\s*qu(e|é)\s+(elegi|elegí|decidi|decidí|usamos|se\s+usa))|que\s+aprendi|qué\s+aprendí|reflexion|reflexión|podr(i|í)a\s+haber(lo)?\s+hecho\s+(mejor|diferente|de\s+otra)|what\s+did\s+i\s+learn|could\s+i\s+have\s+done\s+(it\s+)?(better|differently)`)},
			{StatePlanning, regexp.MustCompile(`(?i)(como|cómo|how)\s+(deberia|debería|should\s+i|do\s+i)\s+(estructurar|organizar|planificar|empezar|enfocar|structure|organize|plan|start|approach)|que\s+pasos|qué\s+pasos|what\s+steps|plan\s+de|diseño\s+de|antes\s+de\s+(programar|codificar)`)},
			{StateImplementation, regexp.MustCompile(`(?i)(como|cómo|how)\s+(se\s+)?(implemento|implementa|programo|escribo|codifico|do\s+i\s+(implement|write|code))|\bimplementar\b|\bimplement\b|sintaxis|syntax|funcion\s+para|función\s+para|function\s+(for|to|that)`)},
			{StateExploration, regexp.MustCompile(`(?i)(que|qué|what)\s+(es|son|is|are)\b|(en\s+que|en\s+qué|how)\s+se\s+diferencia|difference\s+between|diferencia\s+entre|para\s+que\s+sirve|para\s+qué\s+sirve|explica(me)?\b|explain\b|\bconcepto\b|\bconcept\b`)},
		},
	}
}

// conceptualCue and friends pick request_type from the dominant cue family.
var (
	conceptualCue = regexp.MustCompile(`(?i)(que|qué|what)\s+(es|son|is|are)\b|diferencia\s+entre|difference\s+between|explica|explain|concepto|concept|para\s+qu(e|é)\s+sirve`)
	debuggingCue  = regexp.MustCompile(`(?i)error|exception|excepci(o|ó)n|no\s+funciona|falla|bug|doesn'?t\s+work|traceback`)
	validationCue = regexp.MustCompile(`(?i)(esta|está|es)\s+(bien|correcto)|revisa|verifica|is\s+(this|it)\s+(correct|right|ok)|check|review`)
	reflectionCue = regexp.MustCompile(`(?i)por\s*qu(e|é)\s+(elegi|elegí|decidi|decidí)|reflexion|reflexión|aprendi|aprendí|learn(ed)?\b|mejor(ar)?\s+mi\s+enfoque`)
	codeFenceCue  = regexp.MustCompile("(?s)```|\\bdef\\s+\\w+\\(|\\bfunc\\s+\\w+\\(|\\bpublic\\s+(static\\s+)?\\w+\\s+\\w+\\(")
)

// ClassifierInput is what Classify consumes. RecentTraces carries the most
// recent session traces (newest last) for the history-sensitive help-level
// computation; HintsReceived counts prior tutor hints in the session.
type ClassifierInput struct {
	Prompt        string
	Context       map[string]string
	RecentTraces  []Trace
	HintsReceived int
	Policy        Policy
}

// Classify produces the ClassifierOutput for a prompt. Deterministic given
// the same inputs.
func (c *Classifier) Classify(in ClassifierInput) ClassifierOutput {
	prompt := strings.TrimSpace(in.Prompt)

	delegation := c.delegationLevel(prompt)
	state := c.cognitiveState(prompt)
	requestType := c.requestType(prompt, state)

	out := ClassifierOutput{
		CognitiveState:    state,
		CognitiveIntent:   intentFor(state, delegation),
		DelegationLevel:   delegation,
		IsTotalDelegation: delegation >= TotalDelegationThreshold,
		RequestType:       requestType,
	}
	out.SuggestedStrategy = c.suggestStrategy(out, in)
	return out
}

// delegationLevel sums matched pattern weights, clamped to 1.
func (c *Classifier) delegationLevel(prompt string) float64 {
	var score float64
	for _, p := range c.delegationPatterns {
		if p.pattern.MatchString(prompt) {
			score += p.weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// cognitiveState evaluates the ordered rule table; first match wins.
// Prompts too short to carry a classifiable signal report unknown.
func (c *Classifier) cognitiveState(prompt string) CognitiveState {
	if len([]rune(prompt)) < minClassifiablePromptLength {
		return StateUnknown
	}
	for _, r := range c.stateRules {
		if r.pattern.MatchString(prompt) {
			return r.state
		}
	}
	// An imperative code request with no other signal is implementation work.
	if codeFenceCue.MatchString(prompt) {
		return StateImplementation
	}
	return StateUnknown
}

// requestType picks the dominant cue family, falling back to the family
// implied by the cognitive state.
func (c *Classifier) requestType(prompt string, state CognitiveState) RequestType {
	switch {
	case debuggingCue.MatchString(prompt):
		return RequestDebugging
	case validationCue.MatchString(prompt):
		return RequestValidation
	case reflectionCue.MatchString(prompt):
		return RequestReflection
	case conceptualCue.MatchString(prompt):
		return RequestConceptual
	}
	switch state {
	case StateDebugging:
		return RequestDebugging
	case StateValidation:
		return RequestValidation
	case StateReflection:
		return RequestReflection
	case StateExploration, StatePlanning:
		return RequestConceptual
	}
	return RequestImplementation
}

// helpLevels ordered from most generous to most restrained. Decay steps
// move rightward.
var helpLevels = []string{"high", "medium", "low", "minimal"}

// suggestStrategy emits the Intervention-shaped hint. The mode follows the
// delegation/request-type rules; the help level starts at the policy's max
// and decays one step per five prior hints, plus one more step when the
// student's recent ai_involvement mean exceeds 0.6.
func (c *Classifier) suggestStrategy(out ClassifierOutput, in ClassifierInput) StrategyHint {
	var mode string
	switch {
	case out.IsTotalDelegation:
		mode = "socratic"
	case out.CognitiveState == StateUnknown:
		mode = "clarification"
	case out.CognitiveState == StateReflection || out.CognitiveState == StateStuck || out.CognitiveState == StateFrustrated:
		mode = "metacognitive"
	case out.RequestType == RequestConceptual:
		mode = "explicative"
	case out.RequestType == RequestImplementation || out.RequestType == RequestDebugging:
		mode = "guided"
	default:
		mode = "explicative"
	}

	return StrategyHint{Mode: mode, HelpLevel: c.helpLevel(in)}
}

// helpLevel computes the decayed help level from session history.
func (c *Classifier) helpLevel(in ClassifierInput) string {
	start := helpLevelForAssistance(in.Policy.MaxAIAssistanceLevel)
	idx := 0
	for i, l := range helpLevels {
		if l == start {
			idx = i
			break
		}
	}

	idx += in.HintsReceived / 5
	if meanAIInvolvement(in.RecentTraces) > 0.6 {
		idx++
	}
	if idx >= len(helpLevels) {
		idx = len(helpLevels) - 1
	}
	return helpLevels[idx]
}

// helpLevelForAssistance maps the policy ceiling onto the level scale.
func helpLevelForAssistance(max float64) string {
	switch {
	case max >= 0.75:
		return "high"
	case max >= 0.5:
		return "medium"
	case max >= 0.25:
		return "low"
	default:
		return "minimal"
	}
}

// meanAIInvolvement averages ai_involvement over the given traces.
func meanAIInvolvement(traces []Trace) float64 {
	if len(traces) == 0 {
		return 0
	}
	var sum float64
	for _, t := range traces {
		sum += t.AIInvolvement
	}
	return sum / float64(len(traces))
}

// intentFor labels the classifier's reading of what the student needs.
func intentFor(state CognitiveState, delegation float64) string {
	if delegation >= TotalDelegationThreshold {
		return "obtain_complete_solution"
	}
	switch state {
	case StateExploration:
		return "understand_concept"
	case StatePlanning:
		return "structure_approach"
	case StateImplementation:
		return "implement_solution"
	case StateDebugging:
		return "diagnose_failure"
	case StateValidation:
		return "validate_work"
	case StateReflection:
		return "reflect_on_process"
	case StateStuck, StateFrustrated:
		return "unblock_progress"
	}
	return "clarify_request"
}
