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

// Ollama API wire shape for local backends.
// Reference: https://github.com/ollama/ollama/blob/main/docs/api.md

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Think    bool                   `json:"think,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string              `json:"model"`
	Message         ollamaChatMessage   `json:"message"`
	Done            bool                `json:"done"`
	PromptEvalCount int                 `json:"prompt_eval_count"`
	EvalCount       int                 `json:"eval_count"`
	Error           string              `json:"error,omitempty"`
}

type ollamaChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// ollamaAdapter serves kind=local backends via the Ollama HTTP API.
type ollamaAdapter struct {
	desc       Descriptor
	httpClient *http.Client
}

func newOllamaAdapter(desc Descriptor) *ollamaAdapter {
	return &ollamaAdapter{
		desc:       desc,
		httpClient: &http.Client{},
	}
}

func (a *ollamaAdapter) Name() string { return a.desc.Name }
func (a *ollamaAdapter) Kind() Kind   { return KindLocal }

// Probe lists local models via /api/tags.
func (a *ollamaAdapter) Probe(ctx context.Context) ProbeResult {
	return getProbe(ctx, a.httpClient, a.base()+"/api/tags", nil, localProbeTimeout)
}

// Call issues one non-streaming chat request.
func (a *ollamaAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	apiReq := ollamaChatRequest{
		Model:    a.desc.ModelID,
		Messages: messages,
		Stream:   false,
		Think:    req.Thinking,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	start := time.Now()
	body, status, err := postJSON(ctx, a.httpClient, a.base()+"/api/chat", nil, apiReq)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, NewHTTPError(status, string(body))
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, resp.Error)
	}
	if resp.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty message content", ErrInvalidResponse)
	}

	return &Response{
		Content:          resp.Message.Content,
		ReasoningContent: resp.Message.Thinking,
		TokensUsed:       resp.PromptEvalCount + resp.EvalCount,
		Latency:          latency,
	}, nil
}

func (a *ollamaAdapter) base() string {
	return strings.TrimSuffix(a.desc.EndpointURL, "/")
}

var _ Adapter = (*ollamaAdapter)(nil)
