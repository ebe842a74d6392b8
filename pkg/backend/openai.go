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

// OpenAI-compatible chat completions wire shape. NVIDIA NIM and Groq speak
// the same protocol with different endpoints and key envs; NVIDIA reasoning
// models additionally return reasoning_content.
// Reference: https://platform.openai.com/docs/api-reference/chat

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatCompletionUsage    `json:"usage"`
	Error   *openAIError           `json:"error,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                  `json:"index"`
	Message      chatResponseMessage  `json:"message"`
	FinishReason string               `json:"finish_reason"`
}

type chatResponseMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"`
}

// openAIAdapter serves every backend speaking the chat completions protocol.
type openAIAdapter struct {
	desc       Descriptor
	httpClient *http.Client
}

func newOpenAIAdapter(desc Descriptor) *openAIAdapter {
	return &openAIAdapter{
		desc: desc,
		// Per-call deadlines come from the request context; no client timeout.
		httpClient: &http.Client{},
	}
}

func (a *openAIAdapter) Name() string { return a.desc.Name }
func (a *openAIAdapter) Kind() Kind   { return a.desc.Kind }

// Probe checks the model listing endpoint with the backend's credentials.
func (a *openAIAdapter) Probe(ctx context.Context) ProbeResult {
	return getProbe(ctx, a.httpClient, a.modelsURL(), a.headers(), cloudProbeTimeout)
}

// Call issues one chat completion request.
func (a *openAIAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	apiReq := chatCompletionRequest{
		Model:       a.desc.ModelID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	start := time.Now()
	body, status, err := postJSON(ctx, a.httpClient, a.desc.EndpointURL, a.headers(), apiReq)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, NewHTTPError(status, string(body))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (type %s)", ErrInvalidResponse, resp.Error.Message, resp.Error.Type)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty choices", ErrInvalidResponse)
	}

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		ReasoningContent: resp.Choices[0].Message.ReasoningContent,
		TokensUsed:       resp.Usage.TotalTokens,
		Latency:          latency,
	}, nil
}

func (a *openAIAdapter) headers() map[string]string {
	h := map[string]string{}
	if key := a.desc.APIKey(); key != "" {
		h["Authorization"] = "Bearer " + key
	}
	return h
}

// modelsURL derives the model listing endpoint from the chat completions URL.
func (a *openAIAdapter) modelsURL() string {
	if i := strings.Index(a.desc.EndpointURL, "/chat/completions"); i >= 0 {
		return a.desc.EndpointURL[:i] + "/models"
	}
	return strings.TrimSuffix(a.desc.EndpointURL, "/") + "/models"
}

var _ Adapter = (*openAIAdapter)(nil)
