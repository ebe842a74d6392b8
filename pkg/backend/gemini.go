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

// Gemini generateContent wire shape.
// Reference: https://ai.google.dev/api/generate-content

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiAPIError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// geminiAdapter serves kind=gemini backends.
type geminiAdapter struct {
	desc       Descriptor
	httpClient *http.Client
}

func newGeminiAdapter(desc Descriptor) *geminiAdapter {
	return &geminiAdapter{
		desc:       desc,
		httpClient: &http.Client{},
	}
}

func (a *geminiAdapter) Name() string { return a.desc.Name }
func (a *geminiAdapter) Kind() Kind   { return KindGemini }

// Probe lists available models; a 200 response confirms both reachability
// and key validity.
func (a *geminiAdapter) Probe(ctx context.Context) ProbeResult {
	url := fmt.Sprintf("%s/v1beta/models?key=%s&pageSize=1", a.base(), a.desc.APIKey())
	res := getProbe(ctx, a.httpClient, url, nil, cloudProbeTimeout)
	res.Detail = Redact(res.Detail, a.desc.APIKey())
	return res
}

// Call issues one generateContent request.
func (a *geminiAdapter) Call(ctx context.Context, req Request) (*Response, error) {
	apiReq := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.System != "" {
		apiReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		a.base(), a.desc.ModelID, a.desc.APIKey())

	start := time.Now()
	body, status, err := postJSON(ctx, a.httpClient, url, nil, apiReq)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, NewHTTPError(status, Redact(string(body), a.desc.APIKey()))
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrInvalidResponse, resp.Error.Message, resp.Error.Status)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("%w: empty candidate content", ErrInvalidResponse)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = resp.UsageMetadata.TotalTokenCount
	}
	return &Response{
		Content:    content.String(),
		TokensUsed: tokens,
		Latency:    latency,
	}, nil
}

func (a *geminiAdapter) base() string {
	if a.desc.EndpointURL != "" {
		return strings.TrimSuffix(a.desc.EndpointURL, "/")
	}
	return "https://generativelanguage.googleapis.com"
}

var _ Adapter = (*geminiAdapter)(nil)
