// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Anthropic messages wire shape.
// Reference: https://docs.anthropic.com/en/api/messages

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []chatMessage      `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicAPIError      `json:"error,omitempty"`
}

type anthropicContentBlock struct {
	Type     string `json:"type"` // "text" or "thinking"
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicAdapter serves kind=anthropic backends.
type anthropicAdapter struct {
	desc       Descriptor
	httpClient *http.Client
}

func newAnthropicAdapter(desc Descriptor) *anthropicAdapter {
	return &anthropicAdapter{
		desc:       desc,
		httpClient: &http.Client{},
	}
}

func (a *anthropicAdapter) Name() string { return a.desc.Name }
func (a *anthropicAdapter) Kind() Kind   { return KindAnthropic }

// Probe runs a minimal auth check against the model listing endpoint.
func (a *anthropicAdapter) Probe(ctx context.Context) ProbeResult {
	return getProbe(ctx, a.httpClient, a.base()+"/v1/models?limit=1", a.headers(), cloudProbeTimeout)
}

// Call issues one messages request.
func (a *anthropicAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	apiReq := anthropicRequest{
		Model:       a.desc.ModelID,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	if req.Thinking {
		apiReq.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.MaxTokens / 2}
	}

	start := time.Now()
	body, status, err := postJSON(ctx, a.httpClient, a.base()+"/v1/messages", a.headers(), apiReq)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, NewHTTPError(status, string(body))
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidResponse, resp.Error.Message, resp.Error.Type)
	}

	var content, thinking strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("%w: no text content blocks", ErrInvalidResponse)
	}

	return &Response{
		Content:          content.String(),
		ReasoningContent: thinking.String(),
		TokensUsed:       resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Latency:          latency,
	}, nil
}

func (a *anthropicAdapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.desc.APIKey(),
		"anthropic-version": anthropicVersion,
	}
}

func (a *anthropicAdapter) base() string {
	if a.desc.EndpointURL != "" {
		return strings.TrimSuffix(a.desc.EndpointURL, "/")
	}
	return "https://api.anthropic.com"
}

var _ Adapter = (*anthropicAdapter)(nil)
