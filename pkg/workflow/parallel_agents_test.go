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
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/relay/pkg/backend"
)

// tddScript plays every pipeline role on a single backend, dispatching on
// the role's system prompt.
type tddScript struct {
	decomposition string
	quality       string
	implement     func(call int64) (*backend.Response, error)

	implCalls    atomic.Int64
	qualityCalls atomic.Int64
}

func (s *tddScript) fn(req backend.Request) (*backend.Response, error) {
	switch {
	case strings.Contains(req.System, "decompose"):
		return reply(s.decomposition, 40)(req)
	case strings.Contains(req.System, "failing tests"):
		return reply("```go\nfunc TestBehavior(t *testing.T) { t.Fatal(\"unimplemented\") }\n```", 80)(req)
	case strings.Contains(req.System, "minimal code"):
		return s.implement(s.implCalls.Add(1))
	case strings.Contains(req.System, "quality gate"):
		s.qualityCalls.Add(1)
		return reply(s.quality, 60)(req)
	default:
		// code-reviewer template drives the refactor phase
		return reply("```go\nfunc Final() error { return nil }\n```", 50)(req)
	}
}

func tddEnv(t *testing.T, script *tddScript) (*Env, *scriptedAdapter) {
	t.Helper()
	stub := &scriptedAdapter{name: "local", fn: script.fn}
	env := newTestEnv(t, map[string]*scriptedAdapter{"local": stub}, []string{"local"})
	return env, stub
}

func fourSubtasks() string {
	return `Here is the plan: ["Parse the input file", "Validate the schema", "Apply transformations", "Write the output file"]`
}

func TestParallelAgents_QuickFailsWhenGreenCollapses(t *testing.T) {
	script := &tddScript{
		decomposition: fourSubtasks(),
		quality:       `{"passed": true, "score": 0.9}`,
		implement: func(call int64) (*backend.Response, error) {
			if call == 1 {
				return reply("```go\nfunc Parse() {}\n```", 70)(backend.Request{})
			}
			return nil, backend.ErrTransport
		},
	}
	env, _ := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task": "Build a schema-validating file converter",
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["passed"])
	assert.InDelta(t, 0.3, result["score"].(float64), 1e-9)
	assert.Equal(t, 1, result["iterations"])

	verdict := result["quality"].(qualityVerdict)
	require.Len(t, verdict.Issues, 1)
	assert.Contains(t, verdict.Issues[0], "only 1 of 4")
	require.Len(t, verdict.Feedback, 4)
	for _, fb := range verdict.Feedback {
		assert.Equal(t, quickFailFeedback, fb)
	}
	assert.Zero(t, script.qualityCalls.Load(), "quick fail skips the reviewer")

	subtasks := result["subtasks"].([]*subtask)
	require.Len(t, subtasks, 4)
	for i, st := range subtasks {
		assert.Equal(t, []string{"subtask_1", "subtask_2", "subtask_3", "subtask_4"}[i], st.ID)
	}

	green := result["green"].([]phaseResult)
	require.Len(t, green, 4)
	greenOK := 0
	for _, r := range green {
		if r.Success {
			greenOK++
		} else {
			assert.NotEmpty(t, r.Error)
		}
	}
	assert.Equal(t, 1, greenOK)
}

func TestParallelAgents_IterateAppliesFeedback(t *testing.T) {
	script := &tddScript{
		decomposition: fourSubtasks(),
		implement: func(int64) (*backend.Response, error) {
			return nil, backend.ErrTimeout
		},
	}
	env, stub := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task":                  "Build a converter",
		"iterate_until_quality": true,
		"max_iterations":        2,
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["passed"])
	assert.Equal(t, 2, result["iterations"])

	subtasks := result["subtasks"].([]*subtask)
	for _, st := range subtasks {
		assert.Equal(t, quickFailFeedback, st.Feedback)
	}

	// The second iteration's test-writer prompts carry the gate's feedback.
	carried := false
	for _, req := range stub.requests() {
		if strings.Contains(req.System, "failing tests") && strings.Contains(req.Prompt, quickFailFeedback) {
			carried = true
		}
	}
	assert.True(t, carried)
}

func TestParallelAgents_PassesGateAndWritesArtifacts(t *testing.T) {
	script := &tddScript{
		decomposition: fourSubtasks(),
		quality:       `Verdict follows. {"passed": true, "score": 0.9, "issues": [], "feedback": []}`,
		implement: func(int64) (*backend.Response, error) {
			return reply("```go\nfunc Convert(in []byte) ([]byte, error) { return in, nil }\n```", 90)(backend.Request{})
		},
	}
	env, stub := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)
	workDir := t.TempDir()

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"task":           "Build a converter",
		"work_directory": workDir,
		"write_files":    true,
	})
	require.NoError(t, err)

	assert.Equal(t, true, result["passed"])
	assert.InDelta(t, 0.9, result["score"].(float64), 1e-9)
	assert.Equal(t, 1, result["iterations"])
	assert.Equal(t, int64(1), script.qualityCalls.Load())

	for _, r := range result["red"].([]phaseResult) {
		assert.True(t, r.Success)
		assert.Contains(t, r.Code, "func TestBehavior")
	}
	for _, r := range result["refactor"].([]phaseResult) {
		assert.True(t, r.Success)
		assert.Contains(t, r.Code, "func Final")
	}

	// The reviewer saw every subtask with its tests and its refactored
	// final implementation, not the raw GREEN output.
	var qualityPrompt string
	for _, req := range stub.requests() {
		if strings.Contains(req.System, "quality gate") {
			qualityPrompt = req.Prompt
		}
	}
	require.NotEmpty(t, qualityPrompt)
	assert.Contains(t, qualityPrompt, "subtask_1")
	assert.Contains(t, qualityPrompt, "subtask_4")
	assert.Contains(t, qualityPrompt, "func TestBehavior")
	assert.Contains(t, qualityPrompt, "func Final")
	assert.NotContains(t, qualityPrompt, "func Convert")

	data, err := os.ReadFile(filepath.Join(workDir, "green", "subtask_1_impl.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "func Convert")
	_, err = os.Stat(filepath.Join(workDir, "red", "subtask_2_test.txt"))
	assert.NoError(t, err)
}

func TestParallelAgents_DecomposeListFallback(t *testing.T) {
	script := &tddScript{
		decomposition: "Plan:\n1. Parse input\n2. Validate fields\n3. Write output\n",
	}
	env, _ := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)

	subtasks, err := h.decompose(context.Background(), "Build a converter")
	require.NoError(t, err)
	require.Len(t, subtasks, 3)
	assert.Equal(t, "subtask_1", subtasks[0].ID)
	assert.Equal(t, "Parse input", subtasks[0].Description)
	assert.Equal(t, "Write output", subtasks[2].Description)
}

func TestParallelAgents_DecomposeNothingUsable(t *testing.T) {
	script := &tddScript{decomposition: "I cannot split this task further."}
	env, _ := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)

	_, err := h.decompose(context.Background(), "Build a converter")
	assert.ErrorContains(t, err, "no subtasks")
}

func TestParallelAgents_DecomposeSingleSubtaskRejected(t *testing.T) {
	script := &tddScript{decomposition: `["Do the whole thing at once"]`}
	env, _ := tddEnv(t, script)
	h := NewParallelAgentsHandler(env, nil)

	_, err := h.decompose(context.Background(), "Build a converter")
	assert.ErrorContains(t, err, "at least 2 subtasks")
}

func TestApplyFeedback(t *testing.T) {
	subtasks := []*subtask{{ID: "subtask_1"}, {ID: "subtask_2"}, {ID: "subtask_3"}}
	applyFeedback(subtasks, qualityVerdict{
		Issues:   []string{"tests too shallow"},
		Feedback: []string{"add edge cases", ""},
	})
	assert.Equal(t, "add edge cases", subtasks[0].Feedback)
	assert.Equal(t, "tests too shallow", subtasks[1].Feedback, "empty slot falls back to the first issue")
	assert.Equal(t, "tests too shallow", subtasks[2].Feedback)
}

func TestSample(t *testing.T) {
	assert.Equal(t, "(missing)", sample(""))
	assert.Equal(t, "short", sample("short"))
	long := strings.Repeat("x", qualitySampleLen+10)
	got := sample(long)
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))
	assert.Len(t, got, qualitySampleLen+len("\n...(truncated)"))
}
