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
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"tutorgate/platform/gateway/tutor"
	"tutorgate/platform/shared/logger"
)

// Pipeline is the synchronous per-prompt path: classify, gate, dispatch,
// trace, analyze. One transaction per interaction; per-session calls are
// serialized, cross-session calls run in parallel.
type Pipeline struct {
	store      Store
	classifier *Classifier
	governance *GovernanceFilter
	dispatcher *tutor.Dispatcher
	analyzer   *RiskAnalyzer
	compliance *ComplianceLog
	training   TrainingStore // nil outside training deployments
	log        *logger.Logger

	deadline time.Duration

	// sessionLocks serializes same-session interactions in-process; the
	// store's advisory lock covers multi-process deployments.
	sessionLocks [64]chan struct{}
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Store      Store
	Classifier *Classifier
	Governance *GovernanceFilter
	Dispatcher *tutor.Dispatcher
	Analyzer   *RiskAnalyzer
	Compliance *ComplianceLog
	Training   TrainingStore
	Deadline   time.Duration
}

// NewPipeline composes the pipeline from its parts.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		governance: cfg.Governance,
		dispatcher: cfg.Dispatcher,
		analyzer:   cfg.Analyzer,
		compliance: cfg.Compliance,
		training:   cfg.Training,
		log:        logger.New("pipeline"),
		deadline:   cfg.Deadline,
	}
	if p.deadline <= 0 {
		p.deadline = 30 * time.Second
	}
	for i := range p.sessionLocks {
		p.sessionLocks[i] = make(chan struct{}, 1)
	}
	return p
}

// InteractionRequest is the validated input to ProcessInteraction.
type InteractionRequest struct {
	Prompt          string            `json:"prompt"`
	Context         map[string]string `json:"context,omitempty"`
	CognitiveIntent string            `json:"cognitive_intent,omitempty"`
}

// ProcessInteraction runs the full pipeline for one student prompt.
// Everything the interaction produced commits atomically; on deadline the
// transaction rolls back and nothing persists.
func (p *Pipeline) ProcessInteraction(ctx context.Context, sessionID string, req InteractionRequest) (*InteractionResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}
	start := time.Now()

	release, err := p.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := p.process(ctx, sessionID, req, start)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result.Blocked:
		outcome = "blocked"
	}
	promInteractionsTotal.WithLabelValues(outcome).Inc()
	promInteractionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (p *Pipeline) process(ctx context.Context, sessionID string, req InteractionRequest, start time.Time) (*InteractionResult, error) {
	committed, err := p.store.ListTraces(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tx, err := p.store.BeginInteraction(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session := tx.Session()
	history := BuildSequence(sessionID, committed)

	classified := p.classifier.Classify(ClassifierInput{
		Prompt:        req.Prompt,
		Context:       req.Context,
		RecentTraces:  tailTraces(committed, tutor.MaxRecentExchanges),
		HintsReceived: countResponses(committed),
		Policy:        session.Policy,
	})

	inbound := &Trace{
		ID:                    uuid.NewString(),
		SessionID:             sessionID,
		Level:                 LevelN4Cognitive,
		InteractionType:       InteractionStudentPrompt,
		Content:               req.Prompt,
		Context:               req.Context,
		CognitiveState:        classified.CognitiveState,
		AIInvolvement:         classified.DelegationLevel,
		DecisionJustification: req.CognitiveIntent,
		Metadata:              map[string]interface{}{},
	}

	verdict := p.governance.Evaluate(inbound, session.Policy, classified, history)
	inbound.Metadata["pii_detected"] = verdict.PIIDetected
	if verdict.PIIDetected {
		for _, t := range verdict.PIITypes {
			promPIIRedactions.WithLabelValues(t).Inc()
		}
	}

	if err := tx.AppendTrace(ctx, inbound); err != nil {
		return nil, err
	}

	if verdict.Blocked() {
		return p.finishBlocked(ctx, tx, session, committed, inbound, classified, verdict, start)
	}

	intervention, err := p.dispatcher.Dispatch(ctx, tutor.StrategyMode(classified.SuggestedStrategy.Mode), tutor.Context{
		SessionID:       sessionID,
		SessionMode:     string(session.Mode),
		Prompt:          verdict.SanitizedText,
		CognitiveState:  string(classified.CognitiveState),
		CognitiveIntent: classified.CognitiveIntent,
		RequestType:     string(classified.RequestType),
		DelegationLevel: classified.DelegationLevel,
		HelpLevel:       tutor.HelpLevel(classified.SuggestedStrategy.HelpLevel),
		RecentExchanges: p.buildExchanges(committed),
		Profile: tutor.StudentProfile{
			HintsReceived:    countResponses(committed),
			AIInvolvementAvg: history.AIDependencyScore,
		},
		ActivityTopic: req.Context["topic"],
	})
	if err != nil {
		// Strategies only error on cancellation; nothing persists.
		return nil, WrapError(ErrTimeout, "interaction deadline elapsed during dispatch", err)
	}
	if intervention.Metadata.GeneratedWithLLM {
		promLLMCalls.WithLabelValues("port", "ok").Inc()
	} else {
		promLLMCalls.WithLabelValues("port", "fallback").Inc()
	}

	response := &Trace{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Level:           LevelN4Cognitive,
		InteractionType: InteractionAIResponse,
		Content:         intervention.Message,
		CognitiveState:  classified.CognitiveState,
		AIInvolvement:   intervention.HelpLevel.AIInvolvement(),
		Metadata: map[string]interface{}{
			"generated_with_llm": intervention.Metadata.GeneratedWithLLM,
			"provides_code":      false,
			"strategy_mode":      string(intervention.Mode),
			"pedagogical_intent": intervention.PedagogicalIntent,
		},
	}
	if err := tx.AppendTrace(ctx, response); err != nil {
		return nil, err
	}

	newRisks, err := p.detectRisks(ctx, tx, sessionID, committed, nil, inbound, response)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	p.recordCompliance(session, req.Prompt, verdict, string(intervention.Mode),
		intervention.Metadata.TokensUsed, start)
	p.touchTrainingState(ctx, session, len(intervention.Hints))

	return &InteractionResult{
		InteractionID:          response.ID,
		Message:                intervention.Message,
		AgentUsed:              "Tutor",
		CognitiveStateDetected: classified.CognitiveState,
		AIInvolvement:          response.AIInvolvement,
		TraceID:                inbound.ID,
		RisksDetected:          newRisks,
		TokensUsed:             intervention.Metadata.TokensUsed,
		GeneratedWithLLM:       intervention.Metadata.GeneratedWithLLM,
	}, nil
}

// finishBlocked persists the synthetic redirect trace plus the governance
// risk, runs detection over the blocked window, commits, and returns the
// blocked result. The LLM is never called on this path.
func (p *Pipeline) finishBlocked(ctx context.Context, tx InteractionTx, session *Session,
	committed []Trace, inbound *Trace, classified ClassifierOutput, verdict *GovernanceResult, start time.Time) (*InteractionResult, error) {

	synthetic := &Trace{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Level:           LevelN4Cognitive,
		InteractionType: InteractionAIResponse,
		Content:         verdict.BlockMessage,
		CognitiveState:  classified.CognitiveState,
		AIInvolvement:   tutor.HelpMinimal.AIInvolvement(),
		Metadata: map[string]interface{}{
			"generated_with_llm": false,
			"provides_code":      false,
			"blocked":            true,
			"block_reason":       verdict.BlockReason,
		},
	}
	if err := tx.AppendTrace(ctx, synthetic); err != nil {
		return nil, err
	}

	var risks []Risk
	if verdict.Risk != nil {
		risk := *verdict.Risk
		// The fingerprint keys on the blocked prompt's trace ref, so the
		// analyzer's window pass recognizes this detection as its own.
		risk.Evidence = []string{evidenceRef(*inbound)}
		risk.Fingerprint = fingerprint(risk.Type, risk.Evidence)
		if err := tx.AppendRisk(ctx, &risk); err != nil {
			return nil, err
		}
		promRisksDetected.WithLabelValues(string(risk.Dimension), string(risk.Level)).Inc()
		risks = append(risks, risk)
	}

	analyzed, err := p.detectRisks(ctx, tx, session.ID, committed, risks, inbound, synthetic)
	if err != nil {
		return nil, err
	}
	risks = append(risks, analyzed...)

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	promBlockedInteractions.WithLabelValues(verdict.BlockReason).Inc()
	p.recordCompliance(session, inbound.Content, verdict, "", 0, start)
	p.log.Info(session.ID, "", "interaction blocked", map[string]interface{}{
		"reason":           verdict.BlockReason,
		"delegation_level": classified.DelegationLevel,
	})

	return &InteractionResult{
		InteractionID:          synthetic.ID,
		Message:                verdict.BlockMessage,
		AgentUsed:              "Governance",
		CognitiveStateDetected: classified.CognitiveState,
		AIInvolvement:          classified.DelegationLevel,
		Blocked:                true,
		BlockReason:            verdict.BlockReason,
		TraceID:                inbound.ID,
		RisksDetected:          risks,
	}, nil
}

// detectRisks runs the analyzer over the committed window plus this
// interaction's staged traces and stages any new detections.
// stagedRisks are risks already staged on the transaction; they count
// as existing so the analyzer does not re-report them.
func (p *Pipeline) detectRisks(ctx context.Context, tx InteractionTx, sessionID string,
	committed []Trace, stagedRisks []Risk, staged ...*Trace) ([]Risk, error) {

	all := make([]Trace, 0, len(committed)+len(staged))
	all = append(all, committed...)
	for _, t := range staged {
		all = append(all, *t)
	}

	existing, err := p.store.ListRisks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	existing = append(existing, stagedRisks...)

	violations := p.analyzer.CountPolicyViolations(all)
	detected := p.analyzer.Analyze(BuildSequence(sessionID, all), violations, existing)
	for i := range detected {
		if err := tx.AppendRisk(ctx, &detected[i]); err != nil {
			return nil, err
		}
		promRisksDetected.WithLabelValues(string(detected[i].Dimension), string(detected[i].Level)).Inc()
	}
	return detected, nil
}

func (p *Pipeline) recordCompliance(session *Session, prompt string, verdict *GovernanceResult,
	agent string, tokens int, start time.Time) {
	if p.compliance == nil {
		return
	}
	p.compliance.Record(&ComplianceEntry{
		SessionID:      session.ID,
		StudentID:      session.StudentID,
		Decision:       string(verdict.Decision),
		ActionRequired: verdict.ActionRequired,
		BlockReason:    verdict.BlockReason,
		PIITypes:       verdict.PIITypes,
		PromptHash:     HashPrompt(prompt),
		AgentUsed:      agent,
		TokensUsed:     tokens,
		LatencyMS:      time.Since(start).Milliseconds(),
	})
}

// touchTrainingState bumps the training-mode exercise counters after a
// committed interaction. State loss here is tolerable; failures log and
// move on.
func (p *Pipeline) touchTrainingState(ctx context.Context, session *Session, hints int) {
	if p.training == nil || session.Mode != ModeTraining {
		return
	}
	state, err := p.training.Get(ctx, session.ID)
	if err != nil {
		if CodeOf(err) != ErrNotFound {
			p.log.Warn(session.ID, "", "training state read failed", map[string]interface{}{"error": err.Error()})
			return
		}
		state = &TrainingState{SessionID: session.ID, ExerciseID: session.ActivityID}
	}
	state.Attempts++
	state.HintsUsed += hints
	if err := p.training.Put(ctx, state); err != nil {
		p.log.Warn(session.ID, "", "training state write failed", map[string]interface{}{"error": err.Error()})
	}
}

// lockSession takes the striped in-process lock, honoring the deadline
// while queued. The lock never holds across cancellation: callers release
// via the returned func as they unwind.
func (p *Pipeline) lockSession(ctx context.Context, sessionID string) (func(), error) {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	lock := p.sessionLocks[h.Sum32()%uint32(len(p.sessionLocks))]

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, WrapError(ErrTimeout, "deadline elapsed waiting for session turn", ctx.Err())
	}
}

// GetSequence rebuilds the derived TraceSequence for a session.
func (p *Pipeline) GetSequence(ctx context.Context, sessionID string) (*TraceSequence, error) {
	traces, err := p.store.ListTraces(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildSequence(sessionID, traces), nil
}

func tailTraces(traces []Trace, n int) []Trace {
	if len(traces) <= n {
		return traces
	}
	return traces[len(traces)-n:]
}

// countResponses counts prior tutor responses; each one consumed a hint
// budget step.
func countResponses(traces []Trace) int {
	count := 0
	for _, t := range traces {
		if t.InteractionType == InteractionAIResponse {
			count++
		}
	}
	return count
}

// buildExchanges pairs student prompts with the tutor responses that
// followed them, newest last. Prompts are re-sanitized: traces store the
// original text, but history replayed into provider calls must not carry
// PII.
func (p *Pipeline) buildExchanges(traces []Trace) []tutor.Exchange {
	var exchanges []tutor.Exchange
	var pending string
	var havePending bool
	for _, t := range traces {
		switch t.InteractionType {
		case InteractionStudentPrompt:
			pending = p.governance.SanitizeText(t.Content)
			havePending = true
		case InteractionAIResponse:
			if havePending {
				exchanges = append(exchanges, tutor.Exchange{StudentPrompt: pending, TutorMessage: t.Content})
				havePending = false
			}
		}
	}
	return exchanges
}
