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
// Package routing classifies requests and selects backends with a 4-tier
// policy: forced, learning, rules, fallback chain.
package routing

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// Complexity is the coarse request classification derived from prompt
// length and requested output tokens.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// TaskType is the coarse request classification derived from keyword
// detection over the prompt.
type TaskType string

const (
	TaskCode       TaskType = "code"
	TaskAnalysis   TaskType = "analysis"
	TaskGeneration TaskType = "generation"
	TaskUnity      TaskType = "unity"
	TaskGeneral    TaskType = "general"
)

// Source identifies which router tier produced a decision.
type Source string

const (
	SourceForced   Source = "forced"
	SourceLearning Source = "learning"
	SourceRules    Source = "rules"
	SourceFallback Source = "fallback"
)

// Context captures the routing-relevant facts about one request.
type Context struct {
	PromptLength    int        `json:"prompt_length"`
	EstimatedTokens int        `json:"estimated_tokens"`
	MaxTokens       int        `json:"max_tokens"`
	Complexity      Complexity `json:"complexity"`
	TaskType        TaskType   `json:"task_type"`
	ForcedBackend   string     `json:"forced_backend,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Decision is the router's pick for one request, attached to the outcome.
type Decision struct {
	Backend    string  `json:"backend"`
	Source     Source  `json:"source"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Outcome reports a completed request back to the learning engine.
type Outcome struct {
	Backend    string
	Complexity Complexity
	TaskType   TaskType
	Success    bool
	LatencyMs  int64
	Source     Source
}

// Recommendation is a learning-engine suggestion for a (complexity,
// task type) pattern.
type Recommendation struct {
	Backend    string
	Confidence float64
	Reason     string
}

// Learner is the passive store the router consults before routing and
// notifies after the outcome is known. It never calls back into the router.
type Learner interface {
	Recommend(complexity Complexity, taskType TaskType) (Recommendation, bool)
	Record(o Outcome)
}

// Task-type detectors, precompiled once. Order matters: unity outranks code
// because unity prompts are full of code keywords.
var (
	unityRe      = regexp.MustCompile(`(?i)\b(unity|gameobject|monobehaviour|prefab|shader|rigidbody|raycast)\b`)
	codeRe       = regexp.MustCompile(`(?i)\b(code|function|class|method|implement|refactor|debug|compile|bug|fix|api|struct|algorithm)\b|` + "```")
	analysisRe   = regexp.MustCompile(`(?i)\b(analy[sz]e|review|explain|compare|evaluate|assess|investigate|why)\b`)
	generationRe = regexp.MustCompile(`(?i)\b(write|generate|create|draft|compose|design|build)\b`)
	mathRe       = regexp.MustCompile(`(?i)\b(math|equation|proof|theorem|calculate|integral|derivative)\b`)
)

// DetectTaskType classifies a prompt. Pure function of the prompt.
func DetectTaskType(prompt string) TaskType {
	switch {
	case unityRe.MatchString(prompt):
		return TaskUnity
	case codeRe.MatchString(prompt):
		return TaskCode
	case analysisRe.MatchString(prompt):
		return TaskAnalysis
	case generationRe.MatchString(prompt):
		return TaskGeneration
	default:
		return TaskGeneral
	}
}

// DeriveComplexity classifies a request from prompt length and requested
// output tokens.
func DeriveComplexity(promptLength, maxTokens int) Complexity {
	switch {
	case promptLength > 1500 || maxTokens > 4096:
		return ComplexityComplex
	case promptLength < 300 && maxTokens <= 1024:
		return ComplexitySimple
	default:
		return ComplexityModerate
	}
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens counts prompt tokens with the cl100k_base encoding,
// falling back to the chars/4 heuristic when the encoding is unavailable
// (offline first run).
func EstimateTokens(prompt string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(prompt, nil, nil))
	}
	return len(prompt) / 4
}

// DeriveContext builds the routing context for one request.
func DeriveContext(prompt string, maxTokens int, forced string) Context {
	return Context{
		PromptLength:    len(prompt),
		EstimatedTokens: EstimateTokens(prompt),
		MaxTokens:       maxTokens,
		Complexity:      DeriveComplexity(len(prompt), maxTokens),
		TaskType:        DetectTaskType(prompt),
		ForcedBackend:   forced,
		Timestamp:       time.Now(),
	}
}

// DynamicTokenLimit computes the output token budget for a request:
// unity work gets 16K, complex or long prompts 8K, short prompts 2K,
// everything else 4K; the result is clamped to the backend's cap.
func DynamicTokenLimit(rctx Context, maxTokensCap int) int {
	var limit int
	switch {
	case rctx.TaskType == TaskUnity:
		limit = 16384
	case rctx.Complexity == ComplexityComplex || rctx.PromptLength > 1500:
		limit = 8192
	case rctx.PromptLength < 300:
		limit = 2048
	default:
		limit = 4096
	}
	if rctx.MaxTokens > 0 && rctx.MaxTokens < limit {
		limit = rctx.MaxTokens
	}
	if maxTokensCap > 0 && limit > maxTokensCap {
		limit = maxTokensCap
	}
	return limit
}

// DynamicTimeout computes a per-request timeout in [60s, 300s], scaled by
// expected output size, unity flag, code/math content, and cloud-vs-local.
func DynamicTimeout(rctx Context, prompt string, local bool) time.Duration {
	timeout := 60 * time.Second
	if rctx.MaxTokens >= 8192 || rctx.Complexity == ComplexityComplex {
		timeout += 60 * time.Second
	}
	if rctx.TaskType == TaskUnity {
		timeout += 120 * time.Second
	}
	if rctx.TaskType == TaskCode || mathRe.MatchString(prompt) {
		timeout += 30 * time.Second
	}
	if local {
		// Local inference is slower per token than cloud endpoints.
		timeout += 60 * time.Second
	}
	if timeout > 300*time.Second {
		timeout = 300 * time.Second
	}
	return timeout
}

// SentenceTerminal reports whether text ends cleanly: sentence punctuation
// or a closed code fence. Used by the truncation heuristic.
func SentenceTerminal(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "```") {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':', ')', ']', '}', '"', '\'', '`':
		return true
	}
	return false
}
