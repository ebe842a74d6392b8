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
	"math"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/routing"
)

// councilPreamble wraps the user prompt for every council member.
const councilPreamble = "You are one voice in a council of AI models answering the same question " +
	"independently. Give your best answer with brief reasoning. Be direct and specific.\n\n"

// agreementPairThreshold is the token-overlap level above which a pair of
// responses counts as agreeing.
const agreementPairThreshold = 0.3

// DefaultTopicMap maps council topics to candidate backends. Overridable
// from config and environment.
func DefaultTopicMap() map[string][]string {
	return map[string][]string{
		"coding":       {"nvidia_deepseek", "local", "nvidia_qwen", "gemini"},
		"reasoning":    {"nvidia_qwen", "gemini", "groq", "nvidia_deepseek"},
		"architecture": {"nvidia_qwen", "gemini", "nvidia_deepseek", "groq"},
		"security":     {"nvidia_qwen", "gemini", "nvidia_deepseek"},
		"performance":  {"nvidia_deepseek", "nvidia_qwen", "local"},
		"general":      {"gemini", "groq", "nvidia_qwen", "local"},
		"creative":     {"gemini", "groq", "local"},
	}
}

// CouncilHandler fans the same prompt out to 2-6 backends in parallel and
// returns all responses plus a lightweight agreement signal. No synthesis;
// the final judgment is the caller's.
type CouncilHandler struct {
	env *Env

	mu     sync.RWMutex
	topics map[string][]string
}

var _ Handler = (*CouncilHandler)(nil)

// NewCouncilHandler builds the council tool. topics may be nil for defaults.
func NewCouncilHandler(env *Env, topics map[string][]string) *CouncilHandler {
	if topics == nil {
		topics = DefaultTopicMap()
	}
	return &CouncilHandler{env: env, topics: topics}
}

// SetTopics replaces the topic map. Called on config hot reload.
func (h *CouncilHandler) SetTopics(topics map[string][]string) {
	if topics == nil {
		return
	}
	h.mu.Lock()
	h.topics = topics
	h.mu.Unlock()
}

func (h *CouncilHandler) Name() string { return "council" }

func (h *CouncilHandler) Description() string {
	return "Query multiple AI backends in parallel on the same prompt and measure their agreement."
}

func (h *CouncilHandler) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Question for the council",
			},
			"topic": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"coding", "reasoning", "architecture", "security", "performance", "general", "creative"},
			},
			"confidence_needed": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"high", "medium", "low"},
				"description": "high=4 backends, medium=3, low=2",
			},
			"num_backends": map[string]interface{}{
				"type":        "integer",
				"minimum":     2,
				"maximum":     6,
				"description": "Explicit backend count, overriding confidence_needed",
			},
			"max_tokens": map[string]interface{}{
				"type": "integer",
			},
		},
		"required": []interface{}{"prompt", "topic"},
	}
}

// councilResponse is one member's settled result.
type councilResponse struct {
	Backend   string `json:"backend"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Success   bool   `json:"success"`
}

func (h *CouncilHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	prompt := argString(args, "prompt", "")
	topic := argString(args, "topic", "general")

	want := 3
	switch argString(args, "confidence_needed", "medium") {
	case "high":
		want = 4
	case "low":
		want = 2
	}
	if n := argInt(args, "num_backends", 0); n > 0 {
		want = clampInt(n, 2, 6)
	}

	members := h.resolveMembers(topic, want)
	if len(members) < 2 {
		return nil, fmt.Errorf("council needs at least 2 available backends, have %d", len(members))
	}

	req := backend.Request{
		Prompt:      councilPreamble + prompt,
		MaxTokens:   argInt(args, "max_tokens", 4096),
		Temperature: 0.7,
	}
	rctx := routing.DeriveContext(prompt, req.MaxTokens, "")

	start := time.Now()
	results := make([]councilResponse, len(members))
	h.env.parallel(ctx, len(members), len(members), func(i int) {
		name := members[i]
		desc, _ := h.env.Registry.Descriptor(name)
		memberCtx, cancel := context.WithTimeout(ctx, routing.DynamicTimeout(rctx, prompt, desc.Kind == backend.KindLocal))
		defer cancel()

		memberStart := time.Now()
		fb, err := h.env.Registry.RequestWithFallback(memberCtx, name, req)
		elapsed := time.Since(memberStart)
		results[i] = councilResponse{
			Backend:   name,
			LatencyMs: elapsed.Milliseconds(),
		}
		if err != nil {
			results[i].Error = err.Error()
			h.env.observe(rctx, name, false, elapsed, routing.SourceRules)
			return
		}
		results[i].Success = true
		results[i].Content = fb.Response.Content
		// Report the backend that actually answered.
		results[i].Backend = fb.UsedBackend
		h.env.observe(rctx, fb.UsedBackend, true, elapsed, routing.SourceRules)
	})
	duration := time.Since(start)

	var succeeded, failed []councilResponse
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r)
		} else {
			failed = append(failed, r)
		}
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("all %d council backends failed", len(members))
	}

	level, pairOverlaps := agreementLevel(succeeded)
	recommendation := "review"
	if len(succeeded) >= int(math.Ceil(0.6*float64(len(members)))) {
		recommendation = "proceed"
	}

	return map[string]interface{}{
		"responses": succeeded,
		"failed":    failed,
		"synthesis": map[string]interface{}{
			"backends_queried":   len(members),
			"backends_succeeded": len(succeeded),
			"duration_ms":        duration.Milliseconds(),
			"agreement_level":    level,
			"pair_overlaps":      pairOverlaps,
			"recommendation":     recommendation,
		},
		"metadata": map[string]interface{}{
			"topic": topic,
		},
	}, nil
}

// resolveMembers picks candidates for a topic: the configured list filtered
// to available backends, topped up from the global fallback chain.
func (h *CouncilHandler) resolveMembers(topic string, want int) []string {
	h.mu.RLock()
	candidates := h.topics[topic]
	if candidates == nil {
		candidates = h.topics["general"]
	}
	h.mu.RUnlock()

	seen := make(map[string]bool)
	var members []string
	for _, name := range candidates {
		if len(members) >= want {
			break
		}
		if !seen[name] && h.env.Registry.Available(name) {
			seen[name] = true
			members = append(members, name)
		}
	}
	for _, name := range h.env.Registry.FallbackChain() {
		if len(members) >= want {
			break
		}
		if !seen[name] && h.env.Registry.Available(name) {
			seen[name] = true
			members = append(members, name)
		}
	}
	return members
}

// agreementLevel computes the pairwise token-overlap agreement between
// responses: the fraction of pairs with overlap above the threshold maps to
// high (>= 0.8), moderate (>= 0.5), or divergent. One response yields
// single_response.
func agreementLevel(responses []councilResponse) (string, []map[string]interface{}) {
	if len(responses) < 2 {
		return "single_response", nil
	}

	tokenSets := make([]map[string]bool, len(responses))
	for i, r := range responses {
		tokenSets[i] = agreementTokens(r.Content)
	}

	var pairs []map[string]interface{}
	agreeing := 0
	total := 0
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			overlap := tokenOverlap(tokenSets[i], tokenSets[j])
			total++
			if overlap > agreementPairThreshold {
				agreeing++
			}
			pairs = append(pairs, map[string]interface{}{
				"backends": []string{responses[i].Backend, responses[j].Backend},
				"overlap":  math.Round(overlap*1000) / 1000,
			})
		}
	}

	frac := float64(agreeing) / float64(total)
	switch {
	case frac >= 0.8:
		return "high", pairs
	case frac >= 0.5:
		return "moderate", pairs
	default:
		return "divergent", pairs
	}
}

// agreementTokens extracts the comparison vocabulary of a response:
// lowercase non-stopword tokens longer than 4 characters.
func agreementTokens(text string) map[string]bool {
	set := make(map[string]bool)
	var sb strings.Builder
	flush := func() {
		if sb.Len() > 4 {
			word := sb.String()
			if !agreementStopWords[word] {
				set[word] = true
			}
		}
		sb.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

var agreementStopWords = map[string]bool{
	"about": true, "after": true, "because": true, "before": true,
	"between": true, "could": true, "might": true, "other": true,
	"should": true, "their": true, "there": true, "these": true,
	"thing": true, "those": true, "through": true, "under": true,
	"where": true, "which": true, "while": true, "would": true,
}

// tokenOverlap is the Jaccard-like overlap between two token sets:
// intersection over the smaller set.
func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for tok := range small {
		if large[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
