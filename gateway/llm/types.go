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

// Package llm provides the provider-agnostic port used by the interaction
// pipeline to call large language models, together with the semantic cache
// and outbound-call limiter that sit in front of it.
package llm

import (
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies the type of LLM provider.
type ProviderType string

// Standard provider types supported out of the box.
const (
	// ProviderTypeMock is the scriptable in-process provider used in tests
	// and as the default when no real provider is configured.
	ProviderTypeMock ProviderType = "mock"

	// ProviderTypeAnthropic represents Anthropic's Claude models over HTTP.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeBedrock represents AWS Bedrock managed models.
	ProviderTypeBedrock ProviderType = "bedrock"
)

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the ordered conversation sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options bounds a single completion call. The deadline is carried by the
// context passed to Generate; callers without a deadline get DefaultTimeout.
type Options struct {
	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Stop lists sequences that end generation early.
	Stop []string `json:"stop,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`
}

// DefaultTimeout bounds provider calls whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Response contains the result of a completion call.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the actual model used.
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// Cached is true when the response was served from the semantic cache.
	Cached bool `json:"cached,omitempty"`
}

// UsageStats tracks token usage for monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
}

// StreamHandler is called for each chunk of a streaming completion.
// Returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// ErrorKind is the closed set of errors the port surfaces to callers.
// Provider-specific failures are always mapped onto one of these.
type ErrorKind string

const (
	// KindUnavailable indicates the provider could not be reached or is down.
	KindUnavailable ErrorKind = "unavailable"

	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindRateLimited indicates the provider rejected the call for quota.
	KindRateLimited ErrorKind = "rate_limited"

	// KindInvalidResponse indicates a non-JSON or empty provider body.
	KindInvalidResponse ErrorKind = "invalid_response"

	// KindCancelled indicates the caller gave up before completion.
	KindCancelled ErrorKind = "cancelled"
)

// PortError is the error type returned by every port operation.
type PortError struct {
	// Provider is the name of the provider that produced the error.
	Provider string

	// Kind classifies the failure.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any. Never shown to students.
	Cause error
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return fmt.Sprintf("llm %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *PortError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the pipeline may retry this error once.
// RateLimited and InvalidResponse are deliberately not retryable.
func (e *PortError) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindTimeout
}

// NewPortError creates a PortError.
func NewPortError(provider string, kind ErrorKind, message string, cause error) *PortError {
	return &PortError{Provider: provider, Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from an error chain.
// Non-port errors are reported as KindUnavailable.
func KindOf(err error) ErrorKind {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}
