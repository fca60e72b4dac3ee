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

// Package bedrock implements the LLM port for AWS Bedrock managed models
// using AWS SDK v2 with Signature V4 authentication via IAM roles.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"tutorgate/platform/gateway/llm"
)

// DefaultModel is the Claude model used when none is configured.
const DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// InvokeAPI is the subset of the Bedrock runtime client we use (enables testing).
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements the llm.Provider port for AWS Bedrock.
// Only the Anthropic model family is wired; tutor interventions are plain
// text and do not need the other families' request shapes.
type Provider struct {
	name   string
	client InvokeAPI
	region string
	model  string
}

// New creates a Bedrock provider, loading AWS config for the region.
func New(ctx context.Context, name, region, model string) (*Provider, error) {
	if name == "" {
		name = "bedrock"
	}
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = DefaultModel
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return &Provider{
		name:   name,
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
		model:  model,
	}, nil
}

// NewWithClient creates a provider around an existing client (tests).
func NewWithClient(name string, client InvokeAPI, model string) *Provider {
	if name == "" {
		name = "bedrock"
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{name: name, client: client, model: model}
}

// NewFactory returns an llm.Factory building Bedrock providers.
func NewFactory() llm.Factory {
	return func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return New(context.Background(), cfg.Name, cfg.Region, cfg.Model)
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Type implements llm.Provider.
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeBedrock }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	start := time.Now()

	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	body, err := json.Marshal(p.buildRequest(messages, opts))
	if err != nil {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "marshal request", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	var apiResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "non-JSON completion body", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		content.WriteString(block.Text)
	}
	if content.Len() == 0 {
		return nil, llm.NewPortError(p.name, llm.KindInvalidResponse, "empty completion body", nil)
	}

	return &llm.Response{
		Content: content.String(),
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// GenerateStream implements llm.Provider. Bedrock InvokeModel is not
// streamed here; the full body is delivered as a single chunk.
func (p *Provider) GenerateStream(ctx context.Context, messages []llm.Message, opts llm.Options, handler llm.StreamHandler) (*llm.Response, error) {
	resp, err := p.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if handler != nil {
		if err := handler(llm.StreamChunk{Content: resp.Content}); err != nil {
			return nil, llm.NewPortError(p.name, llm.KindCancelled, "stream handler aborted", err)
		}
		if err := handler(llm.StreamChunk{Done: true}); err != nil {
			return nil, llm.NewPortError(p.name, llm.KindCancelled, "stream handler aborted", err)
		}
	}
	return resp, nil
}

// buildRequest shapes the Anthropic-on-Bedrock request body.
func (p *Provider) buildRequest(messages []llm.Message, opts llm.Options) map[string]interface{} {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system string
	var apiMessages []map[string]string
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		apiMessages = append(apiMessages, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	req := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       opts.Temperature,
		"messages":          apiMessages,
	}
	if system != "" {
		req["system"] = system
	}
	if len(opts.Stop) > 0 {
		req["stop_sequences"] = opts.Stop
	}
	return req
}

// mapError maps SDK failures onto the closed error set.
func (p *Provider) mapError(err error) *llm.PortError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return llm.NewPortError(p.name, llm.KindTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return llm.NewPortError(p.name, llm.KindCancelled, "call cancelled", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "TooManyRequests") {
		return llm.NewPortError(p.name, llm.KindRateLimited, "bedrock throttled the call", err)
	}
	return llm.NewPortError(p.name, llm.KindUnavailable, "bedrock call failed", err)
}
