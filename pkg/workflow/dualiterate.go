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
	"sync"
)

// DualIterateConfig binds the two roles of the generate-review-fix loop to
// backend preferences. Empty fields use the built-in defaults; env overrides
// are applied at config load.
type DualIterateConfig struct {
	CoderBackends    []string `mapstructure:"coder_backends"`
	ReviewerBackends []string `mapstructure:"reviewer_backends"`
}

func (c DualIterateConfig) withDefaults() DualIterateConfig {
	if len(c.CoderBackends) == 0 {
		c.CoderBackends = []string{"local", "nvidia_deepseek"}
	}
	if len(c.ReviewerBackends) == 0 {
		c.ReviewerBackends = []string{"nvidia_qwen", "gemini"}
	}
	return c
}

// DualIterateHandler runs the coder-reviewer loop: generate code, review it
// for a structured verdict, feed issues back, repeat until the quality gate
// passes or the iteration cap is hit.
type DualIterateHandler struct {
	env *Env

	mu  sync.RWMutex
	cfg DualIterateConfig
}

var _ Handler = (*DualIterateHandler)(nil)

// NewDualIterateHandler builds the dual_iterate tool.
func NewDualIterateHandler(env *Env, cfg DualIterateConfig) *DualIterateHandler {
	return &DualIterateHandler{env: env, cfg: cfg.withDefaults()}
}

// SetConfig replaces the role bindings. Called on config hot reload.
func (h *DualIterateHandler) SetConfig(cfg DualIterateConfig) {
	h.mu.Lock()
	h.cfg = cfg.withDefaults()
	h.mu.Unlock()
}

func (h *DualIterateHandler) Name() string { return "dual_iterate" }

func (h *DualIterateHandler) Description() string {
	return "Iterate code between a coder backend and a reviewer backend until the review score passes the quality threshold."
}

func (h *DualIterateHandler) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Coding task to iterate on",
			},
			"max_iterations": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 5,
			},
			"quality_threshold": map[string]interface{}{
				"type":        "number",
				"description": "Review score that approves the code, clamped to [0.5, 1.0]",
			},
			"include_history": map[string]interface{}{
				"type":        "boolean",
				"description": "Return per-iteration snapshots",
			},
		},
		"required": []interface{}{"task"},
	}
}

// iterationRecord is the immutable snapshot of one loop pass.
type iterationRecord struct {
	Iteration int     `json:"iteration"`
	Code      string  `json:"generated_code"`
	Review    Verdict `json:"review"`
	Coder     string  `json:"coder_backend"`
	Reviewer  string  `json:"reviewer_backend"`
}

func (h *DualIterateHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	task := argString(args, "task", "")
	maxIters := clampInt(argInt(args, "max_iterations", 3), 1, 5)
	threshold := clampFloat(argFloat(args, "quality_threshold", 0.7), 0.5, 1.0)

	h.mu.RLock()
	cfg := h.cfg
	h.mu.RUnlock()

	coder := Role{
		Name: "coder",
		SystemPrompt: "You are an expert programmer. Produce complete, working code for the task. " +
			"Return the code in a single fenced code block.",
		RecommendedBackends: cfg.CoderBackends,
		MaxTokens:           8192,
		Temperature:         0.4,
	}
	reviewer := Role{
		Name: "reviewer",
		SystemPrompt: "You are a strict code reviewer. Judge the code against the task. Respond ONLY " +
			`with a JSON object {"score": 0.0-1.0, "issues": [...], "suggestions": [...], "summary": "..."}.`,
		RecommendedBackends: cfg.ReviewerBackends,
		MaxTokens:           4096,
		Temperature:         0.2,
	}

	augmentedTask := augmentWithPatterns(h.env.Patterns, task, "code")

	var (
		history  []iterationRecord
		code     string
		verdict  Verdict
		approved bool
	)
	for iter := 1; iter <= maxIters; iter++ {
		prompt := augmentedTask
		if iter > 1 {
			prompt = iterationPrompt(task, code, verdict)
		}

		genOut, err := h.env.runRole(ctx, coder, prompt)
		if err != nil {
			return nil, fmt.Errorf("iteration %d generate: %w", iter, err)
		}
		code = ExtractCode(genOut.Content)

		reviewOut, err := h.env.runRole(ctx, reviewer, reviewPrompt(task, code))
		if err != nil {
			return nil, fmt.Errorf("iteration %d review: %w", iter, err)
		}
		verdict = ParseVerdict(reviewOut.Content)

		history = append(history, iterationRecord{
			Iteration: iter,
			Code:      code,
			Review:    verdict,
			Coder:     genOut.Backend,
			Reviewer:  reviewOut.Backend,
		})

		if verdict.Score >= threshold {
			approved = true
			break
		}
	}

	if approved && h.env.Patterns != nil {
		// Remember approved solutions for future prompt augmentation.
		h.env.Patterns.Add(code, task, "code", []string{"dual_iterate", "approved"})
	}

	result := map[string]interface{}{
		"approved":     approved,
		"code":         code,
		"final_score":  verdict.Score,
		"iterations":   len(history),
		"final_review": verdict,
		"metadata": map[string]interface{}{
			"quality_threshold": threshold,
		},
	}
	if argBool(args, "include_history", false) {
		result["history"] = history
	}
	return result, nil
}

func iterationPrompt(task, code string, review Verdict) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(task)
	b.WriteString("\n\nCurrent code:\n```\n")
	b.WriteString(code)
	b.WriteString("\n```\n\nThe reviewer found these issues:\n")
	for _, issue := range review.Issues {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
	if len(review.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range review.Suggestions {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nFix every issue and return the full corrected code in a fenced block.")
	return b.String()
}

func reviewPrompt(task, code string) string {
	return fmt.Sprintf("Task:\n%s\n\nCode to review:\n```\n%s\n```", task, code)
}
