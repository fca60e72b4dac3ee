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

// Package anthropic implements the LLM port for Anthropic's Claude models
// over the HTTP messages API, with SSE streaming support. All failures are
// mapped onto the port's closed error set; callers never see API details.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"tutorgate/platform/gateway/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultModel is used when the gateway does not pin a model
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultMaxTokens bounds tutor interventions; they are short by design
	DefaultMaxTokens = 1024
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the llm.Provider port for Anthropic Claude.
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
}

// Config contains configuration for the Anthropic provider
type Config struct {
	Name       string        // Optional: instance name (default: "anthropic")
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL
	APIVersion string        // Optional: API version
	Model      string        // Optional: default model
	Timeout    time.Duration // Optional: HTTP timeout ceiling
	Client     HTTPClient    // Optional: custom HTTP client (tests)
}

// New creates a new Anthropic provider instance
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = llm.DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     client,
	}, nil
}

// NewFactory returns an llm.Factory building Anthropic providers.
func NewFactory() llm.Factory {
	return func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return New(Config{Name: cfg.Name, APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Type implements llm.Provider.
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeAnthropic }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "non-JSON completion body", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "empty completion body", nil)
	}

	return &llm.Response{
		Content: content.String(),
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// GenerateStream implements llm.Provider by consuming the SSE stream.
func (p *Provider) GenerateStream(ctx context.Context, messages []llm.Message, opts llm.Options, handler llm.StreamHandler) (*llm.Response, error) {
	start := time.Now()

	resp, err := p.do(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return p.processStream(ctx, resp.Body, handler, start)
}

// do builds and executes the HTTP request, mapping transport failures.
func (p *Provider) do(ctx context.Context, messages []llm.Message, opts llm.Options, stream bool) (*http.Response, error) {
	apiReq := apiRequest{
		Model:     p.model,
		MaxTokens: DefaultMaxTokens,
		Stream:    stream,
	}
	if opts.Model != "" {
		apiReq.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		apiReq.MaxTokens = opts.MaxTokens
	}
	// 0.0 is a valid temperature (deterministic)
	if opts.Temperature >= 0 {
		t := opts.Temperature
		apiReq.Temperature = &t
	}
	if len(opts.Stop) > 0 {
		apiReq.StopSequences = opts.Stop
	}

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += m.Content
		default:
			apiReq.Messages = append(apiReq.Messages, apiMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	if len(apiReq.Messages) == 0 {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "no user messages to send", nil)
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, llm.NewPortError(p.name, llm.KindUnavailable, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.mapTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(resp.Body)
		return nil, p.mapAPIError(resp.StatusCode, raw)
	}
	return resp, nil
}

// processStream consumes the SSE stream, forwarding text deltas.
func (p *Provider) processStream(ctx context.Context, body io.Reader, handler llm.StreamHandler, start time.Time) (*llm.Response, error) {
	scanner := bufio.NewScanner(body)
	var content strings.Builder
	var usage llm.UsageStats
	var model string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, p.mapTransportError(err)
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				if event.Message.Usage != nil {
					usage.PromptTokens = event.Message.Usage.InputTokens
				}
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				content.WriteString(event.Delta.Text)
				if handler != nil {
					if err := handler(llm.StreamChunk{Content: event.Delta.Text}); err != nil {
						return nil, llm.NewPortError(p.name, llm.KindCancelled, "stream handler aborted", err)
					}
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			if handler != nil {
				if err := handler(llm.StreamChunk{Done: true}); err != nil {
					return nil, llm.NewPortError(p.name, llm.KindCancelled, "stream handler aborted", err)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, p.mapTransportError(err)
	}
	if content.Len() == 0 {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "empty streamed body", nil)
	}
	if model == "" {
		model = p.model
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &llm.Response{
		Content: content.String(),
		Model:   model,
		Usage:   usage,
		Latency: time.Since(start),
	}, nil
}

// mapTransportError maps network failures onto the closed error set.
func (p *Provider) mapTransportError(err error) *llm.PortError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return llm.NewPortError(p.name, llm.KindTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return llm.NewPortError(p.name, llm.KindCancelled, "call cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.NewPortError(p.name, llm.KindTimeout, "network timeout", err)
	}
	return llm.NewPortError(p.name, llm.KindUnavailable, "transport failure", err)
}

// mapAPIError maps non-200 statuses onto the closed error set.
func (p *Provider) mapAPIError(status int, body []byte) *llm.PortError {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests || errResp.Error.Type == "rate_limit_error":
		return llm.NewPortError(p.name, llm.KindRateLimited, message, nil)
	case status == http.StatusRequestTimeout:
		return llm.NewPortError(p.name, llm.KindTimeout, message, nil)
	case status >= 500:
		return llm.NewPortError(p.name, llm.KindUnavailable, message, nil)
	default:
		return llm.NewPortError(p.name, llm.KindInvalidResponse, message, nil)
	}
}

// Internal API types

type apiRequest struct {
	Model         string       `json:"model"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	System        string       `json:"system,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}
