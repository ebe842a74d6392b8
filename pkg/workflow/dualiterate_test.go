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
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/relay/pkg/backend"
)

const sampleCode = "Here you go:\n```go\nfunc Parse(path string) error {\n\treturn nil\n}\n```\nDone."

func dualEnv(t *testing.T, reviewerFn func(backend.Request) (*backend.Response, error)) (*Env, *scriptedAdapter, *scriptedAdapter) {
	t.Helper()
	coder := &scriptedAdapter{name: "coder", fn: reply(sampleCode, 120)}
	reviewer := &scriptedAdapter{name: "reviewer", fn: reviewerFn}
	env := newTestEnv(t, map[string]*scriptedAdapter{"coder": coder, "reviewer": reviewer}, []string{"coder", "reviewer"})
	return env, coder, reviewer
}

func dualConfig() DualIterateConfig {
	return DualIterateConfig{
		CoderBackends:    []string{"coder"},
		ReviewerBackends: []string{"reviewer"},
	}
}

func TestDualIterate_ApprovesOnSecondIteration(t *testing.T) {
	var reviews atomic.Int64
	env, coder, reviewer := dualEnv(t, func(backend.Request) (*backend.Response, error) {
		if reviews.Add(1) == 1 {
			return reply(`My review: {"score": 0.4, "issues": ["missing error handling"], "suggestions": ["wrap errors with context"], "summary": "needs another pass"}`, 60)(backend.Request{})
		}
		return reply(`{"score": 0.85, "issues": [], "suggestions": [], "summary": "looks solid"}`, 40)(backend.Request{})
	})
	h := NewDualIterateHandler(env, dualConfig())

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task":            "Write a config file parser",
		"max_iterations":  3,
		"include_history": true,
	})
	require.NoError(t, err)

	assert.Equal(t, true, result["approved"])
	assert.Equal(t, 2, result["iterations"])
	assert.InDelta(t, 0.85, result["final_score"].(float64), 1e-9)
	assert.Contains(t, result["code"].(string), "func Parse(")

	history := result["history"].([]iterationRecord)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Iteration)
	assert.InDelta(t, 0.4, history[0].Review.Score, 1e-9)
	assert.Equal(t, "coder", history[0].Coder)
	assert.Equal(t, "reviewer", history[0].Reviewer)

	// The second generation prompt carries the reviewer's findings.
	coderReqs := coder.requests()
	require.Len(t, coderReqs, 2)
	assert.Contains(t, coderReqs[1].Prompt, "missing error handling")
	assert.Contains(t, coderReqs[1].Prompt, "wrap errors with context")

	reviewerReqs := reviewer.requests()
	require.Len(t, reviewerReqs, 2)
	assert.Contains(t, reviewerReqs[0].Prompt, "Code to review")

	// Approved code is remembered for future prompt augmentation.
	assert.Equal(t, 1, env.Patterns.Count())
}

func TestDualIterate_ExhaustsIterationsWithoutApproval(t *testing.T) {
	env, coder, _ := dualEnv(t, reply(`{"score": 0.3, "issues": ["still wrong"], "summary": "no"}`, 30))
	h := NewDualIterateHandler(env, dualConfig())

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task":           "Write a scheduler",
		"max_iterations": 2,
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["approved"])
	assert.Equal(t, 2, result["iterations"])
	assert.InDelta(t, 0.3, result["final_score"].(float64), 1e-9)
	assert.NotContains(t, result, "history")
	assert.Equal(t, int64(2), coder.calls.Load())
	assert.Zero(t, env.Patterns.Count(), "rejected code is not stored")
}

func TestDualIterate_GenerateFailurePropagates(t *testing.T) {
	fail := func(backend.Request) (*backend.Response, error) { return nil, backend.ErrTransport }
	coder := &scriptedAdapter{name: "coder", fn: fail}
	reviewer := &scriptedAdapter{name: "reviewer", fn: fail}
	env := newTestEnv(t, map[string]*scriptedAdapter{"coder": coder, "reviewer": reviewer}, []string{"coder", "reviewer"})
	h := NewDualIterateHandler(env, dualConfig())

	_, err := h.Handle(context.Background(), map[string]interface{}{"task": "anything"})
	assert.ErrorContains(t, err, "iteration 1 generate")
	assert.ErrorIs(t, err, backend.ErrTransport)
}

func TestDualIterate_ThresholdClampedToFloor(t *testing.T) {
	env, _, _ := dualEnv(t, reply(`{"score": 0.55, "issues": [], "summary": "adequate"}`, 20))
	h := NewDualIterateHandler(env, dualConfig())

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task":              "Write a helper",
		"quality_threshold": 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, true, result["approved"], "0.55 passes the clamped 0.5 floor")
	assert.Equal(t, 1, result["iterations"])
	meta := result["metadata"].(map[string]interface{})
	assert.InDelta(t, 0.5, meta["quality_threshold"].(float64), 1e-9)
}

func TestDualIterate_SetConfigRebindsRoles(t *testing.T) {
	bothRoles := func(req backend.Request) (*backend.Response, error) {
		if strings.Contains(req.System, "code reviewer") {
			return reply(`{"score": 0.9, "issues": [], "summary": "fine"}`, 20)(req)
		}
		return reply(sampleCode, 80)(req)
	}
	first := &scriptedAdapter{name: "first", fn: bothRoles}
	second := &scriptedAdapter{name: "second", fn: bothRoles}
	env := newTestEnv(t, map[string]*scriptedAdapter{"first": first, "second": second}, []string{"first", "second"})

	h := NewDualIterateHandler(env, DualIterateConfig{
		CoderBackends:    []string{"first"},
		ReviewerBackends: []string{"first"},
	})
	h.SetConfig(DualIterateConfig{
		CoderBackends:    []string{"second"},
		ReviewerBackends: []string{"second"},
	})

	_, err := h.Handle(context.Background(), map[string]interface{}{"task": "Write a helper"})
	require.NoError(t, err)

	assert.Zero(t, first.calls.Load())
	assert.Equal(t, int64(2), second.calls.Load())
}

func TestDualIterateConfig_Defaults(t *testing.T) {
	cfg := DualIterateConfig{}.withDefaults()
	assert.Equal(t, []string{"local", "nvidia_deepseek"}, cfg.CoderBackends)
	assert.Equal(t, []string{"nvidia_qwen", "gemini"}, cfg.ReviewerBackends)

	custom := DualIterateConfig{CoderBackends: []string{"x"}}.withDefaults()
	assert.Equal(t, []string{"x"}, custom.CoderBackends)
	assert.Equal(t, []string{"nvidia_qwen", "gemini"}, custom.ReviewerBackends)
}
