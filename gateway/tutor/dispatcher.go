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
	"fmt"
	"strings"
	"time"

	"tutorgate/platform/gateway/llm"
	"tutorgate/platform/shared/logger"
)

// Strategy is one tutoring approach: a pure mapping Context -> Intervention
// apart from the optional LLM call. Generate never returns an error when
// the template path can serve; errors surface only for context expiry.
type Strategy interface {
	Mode() StrategyMode
	Intent() string
	Generate(ctx context.Context, c Context) (*Intervention, error)
}

// Dispatcher selects and runs a strategy from the classifier's suggestion
// and the session mode.
type Dispatcher struct {
	strategies map[StrategyMode]Strategy
	log        *logger.Logger
}

// NewDispatcher registers the five built-in strategies. The llm.Client may
// be nil, in which case every strategy takes its template path.
func NewDispatcher(client *llm.Client, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.New("tutor")
	}
	d := &Dispatcher{
		strategies: make(map[StrategyMode]Strategy),
		log:        log,
	}
	for _, s := range []Strategy{
		&SocraticStrategy{client: client, log: log},
		&ExplicativeStrategy{client: client, log: log},
		&GuidedStrategy{client: client, log: log},
		&MetacognitiveStrategy{client: client, log: log},
		&ClarificationStrategy{},
	} {
		d.strategies[s.Mode()] = s
	}
	return d
}

// Register replaces or adds a strategy (tests install doubles this way).
func (d *Dispatcher) Register(s Strategy) {
	d.strategies[s.Mode()] = s
}

// Dispatch runs the strategy named by mode. Unknown or ambiguous modes
// fall back to clarification, which asks for context instead of guessing.
func (d *Dispatcher) Dispatch(ctx context.Context, mode StrategyMode, c Context) (*Intervention, error) {
	if len(c.RecentExchanges) > MaxRecentExchanges {
		c.RecentExchanges = c.RecentExchanges[len(c.RecentExchanges)-MaxRecentExchanges:]
	}

	strategy, ok := d.strategies[mode]
	if !ok {
		d.log.Warn(c.SessionID, "", "unknown strategy mode, falling back to clarification",
			map[string]interface{}{"mode": string(mode)})
		strategy = d.strategies[ModeClarification]
	}

	start := time.Now()
	intervention, err := strategy.Generate(ctx, c)
	if err != nil {
		return nil, err
	}
	intervention.Latency = time.Since(start)
	intervention.Metadata.CognitiveState = c.CognitiveState
	intervention.Metadata.ProvidesCode = false
	return intervention, nil
}

// generateWithFallback runs the strategy's LLM path and degrades to the
// template on any port failure except caller cancellation. Empty bodies
// count as failures.
func generateWithFallback(ctx context.Context, client *llm.Client, log *logger.Logger,
	c Context, systemPrompt string, template func() *Intervention) (*Intervention, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return template(), nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
	}
	for _, ex := range c.RecentExchanges {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: ex.StudentPrompt},
			llm.Message{Role: llm.RoleAssistant, Content: ex.TutorMessage},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: c.Prompt})

	// The LLM gets most of the remaining budget; the rest is reserved so
	// the template path and the commit still fit inside the deadline.
	callCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Until(deadline)*4/5)
		defer cancel()
	}

	resp, err := client.Generate(callCtx, llm.CacheKeyInput{
		SessionID: c.SessionID,
		Mode:      c.SessionMode,
		Prompt:    c.Prompt,
		Context:   c.ActivityTopic,
	}, messages, llm.Options{
		Temperature: 0.7,
		MaxTokens:   600,
	})
	if err != nil {
		if llm.KindOf(err) == llm.KindCancelled {
			return nil, err
		}
		if log != nil {
			log.Warn(c.SessionID, "", "llm path failed, using template",
				map[string]interface{}{"error": err.Error(), "kind": string(llm.KindOf(err))})
		}
		return template(), nil
	}

	out := template()
	out.Message = resp.Content
	out.Metadata.GeneratedWithLLM = true
	out.Metadata.TokensUsed = resp.Usage.TotalTokens
	return out, nil
}

// topicOrDefault names what the conversation is about for template text.
func topicOrDefault(c Context) string {
	if c.ActivityTopic != "" {
		return c.ActivityTopic
	}
	return "el problema"
}

// summarizePrompt trims the prompt for embedding inside template messages.
func summarizePrompt(prompt string, max int) string {
	prompt = strings.TrimSpace(prompt)
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max]) + "…"
}

// systemPromptHeader is shared by every LLM path: the non-negotiable rules
// that hold regardless of strategy.
func systemPromptHeader(c Context) string {
	return fmt.Sprintf(
		"Eres un tutor de programación. Reglas estrictas: nunca entregues código ejecutable "+
			"que resuelva la tarea; como máximo pseudocódigo si el nivel de ayuda lo permite "+
			"(nivel actual: %s, pseudocódigo permitido: %t). Responde en el idioma del estudiante. "+
			"Estado cognitivo detectado: %s.",
		c.HelpLevel, c.HelpLevel.AllowsPseudocode(), c.CognitiveState)
}
