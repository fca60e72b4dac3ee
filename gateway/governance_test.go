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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFilter() *GovernanceFilter {
	return NewGovernanceFilter(NewPIIDetector())
}

func TestGovernanceDelegationBlock(t *testing.T) {
	f := newFilter()
	trace := &Trace{ID: "t1", SessionID: "s1", Content: "Dame el código completo"}
	policy := DefaultPolicy() // block_complete_solutions=true
	classified := ClassifierOutput{IsTotalDelegation: true, DelegationLevel: 1.0}

	result := f.Evaluate(trace, policy, classified, &TraceSequence{SessionID: "s1"})

	require.True(t, result.Blocked(), "total delegation with blocking policy must block")
	assert.Equal(t, "block_and_redirect", result.ActionRequired)
	assert.NotEmpty(t, result.BlockMessage)
	assert.NotContains(t, result.BlockMessage, "```", "redirect message must carry no code")

	require.NotNil(t, result.Risk, "block must carry a risk")
	assert.Equal(t, RiskCognitiveDelegation, result.Risk.Type)
	assert.Equal(t, DimensionCognitive, result.Risk.Dimension)
	assert.True(t, result.Risk.Level.AtLeast(RiskHigh), "risk level = %s", result.Risk.Level)
}

func TestGovernanceDelegationAllowedWhenPolicyPermits(t *testing.T) {
	f := newFilter()
	trace := &Trace{ID: "t1", SessionID: "s1", Content: "Dame el código completo"}
	policy := DefaultPolicy()
	policy.BlockCompleteSolutions = false

	result := f.Evaluate(trace, policy, ClassifierOutput{IsTotalDelegation: true}, nil)
	assert.False(t, result.Blocked(), "delegation must pass when the policy does not block solutions")
}

func TestGovernancePIISanitationNeverBlocks(t *testing.T) {
	f := newFilter()
	trace := &Trace{ID: "t1", SessionID: "s1",
		Content: "mi correo es ana@uni.edu y no entiendo este error, no funciona"}

	result := f.Evaluate(trace, DefaultPolicy(), ClassifierOutput{}, nil)
	assert.False(t, result.Blocked(), "PII must rewrite, never block")
	assert.True(t, result.PIIDetected)
	assert.Contains(t, result.SanitizedText, "[EMAIL_REDACTED]")
	assert.NotContains(t, result.SanitizedText, "ana@uni.edu")
}

func TestGovernanceDependencyWarning(t *testing.T) {
	f := newFilter()
	trace := &Trace{ID: "t1", SessionID: "s1", Content: "¿me ayudas con el siguiente paso del ejercicio?"}
	seq := &TraceSequence{
		SessionID:         "s1",
		Traces:            []Trace{{AIInvolvement: 0.9}, {AIInvolvement: 0.8}},
		AIDependencyScore: 0.85,
	}

	result := f.Evaluate(trace, DefaultPolicy(), ClassifierOutput{}, seq)
	require.False(t, result.Blocked(), "dependency warnings must not block")
	assert.Equal(t, DecisionWarn, result.Decision)
	assert.Equal(t, "reduce_ai_dependency", result.ActionRequired)
}

func TestGovernanceTraceabilityViolation(t *testing.T) {
	f := newFilter()
	trace := &Trace{ID: "t1", SessionID: "s1", Content: "¿cómo implemento la función de inserción?"}
	policy := DefaultPolicy()
	policy.RequireTraceability = true

	result := f.Evaluate(trace, policy, ClassifierOutput{}, &TraceSequence{SessionID: "s1"})
	require.True(t, result.Blocked(), "traceability violation must block")
	assert.Equal(t, "traceability_violation", result.BlockReason)

	// With history present the same policy passes.
	seq := &TraceSequence{SessionID: "s1", Traces: []Trace{{AIInvolvement: 0.1}}}
	assert.False(t, f.Evaluate(trace, policy, ClassifierOutput{}, seq).Blocked())
}
