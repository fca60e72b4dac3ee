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

package tutor

import (
	"context"
	"strings"
	"testing"
	"time"

	"tutorgate/platform/gateway/llm"
)

func baseContext() Context {
	return Context{
		SessionID:      "sess-1",
		SessionMode:    "tutor",
		Prompt:         "¿Cómo implemento una cola circular con arreglos?",
		CognitiveState: "implementation",
		RequestType:    "implementation",
		HelpLevel:      HelpLow,
		ActivityTopic:  "colas circulares",
	}
}

func TestDispatcherSelectsStrategyByMode(t *testing.T) {
	d := NewDispatcher(nil, nil)
	ctx := context.Background()

	cases := []struct {
		mode   StrategyMode
		intent string
	}{
		{ModeSocratic, IntentDecomposition},
		{ModeExplicative, IntentUnderstanding},
		{ModeGuided, IntentScaffolding},
		{ModeMetacognitive, IntentSelfReflection},
		{ModeClarification, IntentSpecificity},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			iv, err := d.Dispatch(ctx, tc.mode, baseContext())
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if iv.Mode != tc.mode {
				t.Errorf("Mode = %v, want %v", iv.Mode, tc.mode)
			}
			if iv.PedagogicalIntent != tc.intent {
				t.Errorf("PedagogicalIntent = %q, want %q", iv.PedagogicalIntent, tc.intent)
			}
			if iv.Message == "" {
				t.Error("template path must produce a message")
			}
		})
	}
}

func TestDispatcherUnknownModeFallsBackToClarification(t *testing.T) {
	d := NewDispatcher(nil, nil)
	iv, err := d.Dispatch(context.Background(), StrategyMode("oracle"), baseContext())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if iv.Mode != ModeClarification {
		t.Errorf("Mode = %v, want clarification", iv.Mode)
	}
}

func TestNoStrategyProvidesCode(t *testing.T) {
	d := NewDispatcher(nil, nil)
	ctx := context.Background()

	for _, mode := range []StrategyMode{ModeSocratic, ModeExplicative, ModeGuided, ModeMetacognitive, ModeClarification} {
		for _, level := range []HelpLevel{HelpMinimal, HelpLow, HelpMedium, HelpHigh} {
			c := baseContext()
			c.HelpLevel = level
			iv, err := d.Dispatch(ctx, mode, c)
			if err != nil {
				t.Fatalf("Dispatch(%s, %s): %v", mode, level, err)
			}
			if iv.Metadata.ProvidesCode {
				t.Errorf("%s/%s: provides_code must be false", mode, level)
			}
			if strings.Contains(iv.Message, "```") {
				t.Errorf("%s/%s: message contains a fenced code block", mode, level)
			}
		}
	}
}

func TestGuidedHintLevelsFollowHelpLevel(t *testing.T) {
	d := NewDispatcher(nil, nil)
	ctx := context.Background()

	want := map[HelpLevel]struct {
		level int
		typ   HintType
	}{
		HelpMinimal: {1, HintQuestion},
		HelpLow:     {2, HintConceptual},
		HelpMedium:  {3, HintDecomposition},
		HelpHigh:    {4, HintPseudocode},
	}
	for level, expect := range want {
		c := baseContext()
		c.HelpLevel = level
		iv, err := d.Dispatch(ctx, ModeGuided, c)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if len(iv.Hints) != 1 {
			t.Fatalf("%s: got %d hints, want 1", level, len(iv.Hints))
		}
		if iv.Hints[0].Level != expect.level || iv.Hints[0].Type != expect.typ {
			t.Errorf("%s: hint = level %d type %s, want level %d type %s",
				level, iv.Hints[0].Level, iv.Hints[0].Type, expect.level, expect.typ)
		}
	}
}

func TestHelpLevelAIInvolvementMapping(t *testing.T) {
	want := map[HelpLevel]float64{
		HelpMinimal: 0.1,
		HelpLow:     0.25,
		HelpMedium:  0.5,
		HelpHigh:    0.75,
	}
	for level, involvement := range want {
		if got := level.AIInvolvement(); got != involvement {
			t.Errorf("%s.AIInvolvement() = %v, want %v", level, got, involvement)
		}
	}
}

func TestLLMPathMarksGenerated(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.QueueResponse("¿Qué invariante debe cumplir el índice de lectura?")
	client := llm.NewClient(llm.ClientConfig{Provider: mock})
	d := NewDispatcher(client, nil)

	iv, err := d.Dispatch(context.Background(), ModeSocratic, baseContext())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !iv.Metadata.GeneratedWithLLM {
		t.Error("successful LLM call should mark generated_with_llm")
	}
	if iv.Message != "¿Qué invariante debe cumplir el índice de lectura?" {
		t.Errorf("Message = %q", iv.Message)
	}
	if mock.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", mock.CallCount())
	}
}

func TestLLMFailureFallsBackToTemplate(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.FailWith(llm.NewPortError("mock", llm.KindRateLimited, "quota", nil))
	client := llm.NewClient(llm.ClientConfig{Provider: mock})
	d := NewDispatcher(client, nil)

	iv, err := d.Dispatch(context.Background(), ModeExplicative, baseContext())
	if err != nil {
		t.Fatalf("Dispatch should degrade, not fail: %v", err)
	}
	if iv.Metadata.GeneratedWithLLM {
		t.Error("template fallback must not claim LLM generation")
	}
	if iv.Message == "" {
		t.Error("template fallback must carry a message")
	}
}

func TestLLMTimeoutFallsBackWithinDeadline(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.SetDelay(300 * time.Millisecond)
	client := llm.NewClient(llm.ClientConfig{Provider: mock, RetryBackoff: time.Millisecond})
	d := NewDispatcher(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	iv, err := d.Dispatch(ctx, ModeGuided, baseContext())
	if err != nil {
		t.Fatalf("Dispatch should fall back on timeout: %v", err)
	}
	if iv.Metadata.GeneratedWithLLM {
		t.Error("timed-out LLM call must fall back to template")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("fallback took %v", elapsed)
	}
}

func TestCancelledContextSurfaces(t *testing.T) {
	d := NewDispatcher(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dispatch(ctx, ModeSocratic, baseContext()); err == nil {
		t.Error("cancelled context must surface an error")
	}
}

func TestRecentExchangesBounded(t *testing.T) {
	mock := llm.NewMockProvider("mock")
	mock.QueueResponse("ok respuesta")
	client := llm.NewClient(llm.ClientConfig{Provider: mock})
	d := NewDispatcher(client, nil)

	c := baseContext()
	for i := 0; i < 40; i++ {
		c.RecentExchanges = append(c.RecentExchanges, Exchange{
			StudentPrompt: "pregunta",
			TutorMessage:  "respuesta",
		})
	}
	if _, err := d.Dispatch(context.Background(), ModeExplicative, c); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// system + 20 exchange pairs + final user prompt
	if got := len(mock.LastMessages()); got != 1+2*MaxRecentExchanges+1 {
		t.Errorf("provider saw %d messages, want %d", got, 1+2*MaxRecentExchanges+1)
	}
}
