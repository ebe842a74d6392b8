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

package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/patterns"
	"github.com/teradata-labs/relay/pkg/routing"
)

// chunkBoundary joins continuation chunks in the final output so callers can
// see where the response was stitched.
const chunkBoundary = "\n\n[--- continued ---]\n\n"

// maxChunkRounds caps continuation requests per ask.
const maxChunkRounds = 3

// AskHandler is the single-backend query tool. Direct mode (force_backend
// or an explicit model) pins one backend with no fallback; auto mode routes
// and falls back through the chain.
type AskHandler struct {
	env *Env
}

var _ Handler = (*AskHandler)(nil)

// NewAskHandler builds the ask tool.
func NewAskHandler(env *Env) *AskHandler {
	return &AskHandler{env: env}
}

func (h *AskHandler) Name() string { return "ask" }

func (h *AskHandler) Description() string {
	return "Ask one AI backend a question. model=\"auto\" routes by task; a named model or force_backend pins the backend."
}

func (h *AskHandler) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"model": map[string]interface{}{
				"type":        "string",
				"description": "Backend name, or \"auto\" for smart routing",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The question or task",
			},
			"max_tokens": map[string]interface{}{
				"type":        "integer",
				"description": "Output token budget (computed dynamically when omitted)",
			},
			"force_backend": map[string]interface{}{
				"type":        "string",
				"description": "Pin a backend; no fallback on failure",
			},
			"enable_chunking": map[string]interface{}{
				"type":        "boolean",
				"description": "Re-issue continuation requests when the response is truncated",
			},
			"thinking": map[string]interface{}{
				"type":        "boolean",
				"description": "Request extended reasoning where the backend supports it",
			},
		},
		"required": []interface{}{"prompt"},
	}
}

func (h *AskHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	prompt := argString(args, "prompt", "")
	model := argString(args, "model", "auto")
	forced := argString(args, "force_backend", "")
	if forced == "" && model != "" && model != "auto" {
		forced = model
	}
	maxTokens := argInt(args, "max_tokens", 0)
	thinking := argBool(args, "thinking", false)

	rctx := routing.DeriveContext(prompt, maxTokens, forced)
	decision := h.env.Router.Select(rctx)
	if decision.Backend == "" {
		return nil, fmt.Errorf("no backend available")
	}

	desc, _ := h.env.Registry.Descriptor(decision.Backend)
	limit := routing.DynamicTokenLimit(rctx, desc.MaxTokensCap)

	req := backend.Request{
		Prompt:      augmentWithPatterns(h.env.Patterns, prompt, rctx.TaskType),
		MaxTokens:   limit,
		Temperature: 0.7,
		Thinking:    thinking,
	}

	ctx, cancel := context.WithTimeout(ctx, routing.DynamicTimeout(rctx, prompt, desc.Kind == backend.KindLocal))
	defer cancel()

	start := time.Now()
	var (
		resp      *backend.Response
		used      string
		attempted []string
		err       error
	)
	if decision.Source == routing.SourceForced {
		// Forced means forced: no fallback chain.
		resp, err = h.env.Registry.Request(ctx, decision.Backend, req)
		used = decision.Backend
		attempted = []string{decision.Backend}
	} else {
		var fb *backend.FallbackResult
		fb, err = h.env.Registry.RequestWithFallback(ctx, decision.Backend, req)
		if fb != nil {
			used = fb.UsedBackend
			attempted = fb.Attempted
			resp = fb.Response
		}
	}
	latency := time.Since(start)

	// When the whole chain fails there is no answering backend; the failure
	// is attributed to the routed one so the learning engine sees it.
	outcomeBackend := used
	if outcomeBackend == "" {
		outcomeBackend = decision.Backend
	}
	h.env.Router.Observe(routing.Outcome{
		Backend:    outcomeBackend,
		Complexity: rctx.Complexity,
		TaskType:   rctx.TaskType,
		Success:    err == nil,
		LatencyMs:  latency.Milliseconds(),
		Source:     decision.Source,
	})
	if err != nil {
		return nil, err
	}

	content := resp.Content
	truncated := isTruncated(resp, limit)
	chunked := false
	if truncated && argBool(args, "enable_chunking", false) {
		content, chunked = h.continueChunks(ctx, used, req, content)
	}

	return map[string]interface{}{
		"content":      content,
		"backend_used": used,
		"fallback_chain": func() []string {
			if len(attempted) <= 1 {
				return []string{}
			}
			return attempted
		}(),
		"latency_ms": latency.Milliseconds(),
		"truncated":  truncated && !chunked,
		"chunked":    chunked,
		"routing":    decision,
		"metadata": map[string]interface{}{
			"complexity":  string(rctx.Complexity),
			"task_type":   string(rctx.TaskType),
			"max_tokens":  limit,
			"tokens_used": resp.TokensUsed,
		},
	}, nil
}

// isTruncated applies the truncation heuristic: output tokens at 90% or
// more of the budget and no clean sentence or code-fence ending.
func isTruncated(resp *backend.Response, limit int) bool {
	if limit <= 0 || resp.TokensUsed < limit*9/10 {
		return false
	}
	return !routing.SentenceTerminal(resp.Content)
}

// continueChunks re-issues sentence-aligned continuation requests against
// the backend that produced the truncated output, concatenating chunks with
// an explicit boundary marker. Stops on the first clean ending, a failed
// continuation, or the round cap.
func (h *AskHandler) continueChunks(ctx context.Context, backendName string, req backend.Request, content string) (string, bool) {
	joined := content
	chunked := false
	for round := 0; round < maxChunkRounds; round++ {
		tail := lastSentences(joined, 2)
		contReq := req
		contReq.Prompt = fmt.Sprintf(
			"Continue the following response exactly where it stops. Do not repeat earlier text.\n\n...%s",
			tail,
		)
		resp, err := h.env.Registry.Request(ctx, backendName, contReq)
		if err != nil || strings.TrimSpace(resp.Content) == "" {
			break
		}
		joined += chunkBoundary + resp.Content
		chunked = true
		if routing.SentenceTerminal(resp.Content) && resp.TokensUsed < contReq.MaxTokens*9/10 {
			break
		}
	}
	return joined, chunked
}

// lastSentences returns roughly the last n sentences of text, used to give
// a continuation request its alignment point.
func lastSentences(text string, n int) string {
	trimmed := strings.TrimSpace(text)
	idx := len(trimmed)
	for i := 0; i < n; i++ {
		cut := strings.LastIndexAny(trimmed[:idx], ".!?")
		if cut <= 0 {
			break
		}
		idx = cut
	}
	if idx >= len(trimmed) {
		return trimmed
	}
	return strings.TrimSpace(trimmed[idx:])
}

// augmentWithPatterns prepends known relevant patterns to the prompt when
// the store has close matches. Store failures are never fatal.
func augmentWithPatterns(store *patterns.Store, prompt string, taskType routing.TaskType) string {
	if store == nil {
		return prompt
	}
	matches := store.Search(prompt, patterns.SearchOptions{
		Limit:    2,
		Category: string(taskType),
	})
	if len(matches) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Known relevant patterns:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s\n", m.Description, firstLine(m.Content))
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
