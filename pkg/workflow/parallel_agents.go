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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// TDD phase names, executed strictly in order per iteration.
const (
	phaseRed      = "red"
	phaseGreen    = "green"
	phaseRefactor = "refactor"
)

// qualitySampleLen bounds per-subtask code samples sent to the quality
// reviewer.
const qualitySampleLen = 500

// quickFailFeedback is the per-subtask feedback when the GREEN phase loses
// more than half its subtasks.
const quickFailFeedback = "retry simpler scope"

// ParallelAgentsHandler runs the TDD pipeline: decompose a task into 2-5
// subtasks, drive each through RED, GREEN, and REFACTOR with batched
// parallel subagents, then judge the whole iteration at a quality gate.
type ParallelAgentsHandler struct {
	env   *Env
	roles map[string]Role
}

var _ Handler = (*ParallelAgentsHandler)(nil)

// NewParallelAgentsHandler builds the parallel_agents tool over a role
// registry (nil for defaults).
func NewParallelAgentsHandler(env *Env, roles map[string]Role) *ParallelAgentsHandler {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &ParallelAgentsHandler{env: env, roles: roles}
}

func (h *ParallelAgentsHandler) Name() string { return "parallel_agents" }

func (h *ParallelAgentsHandler) Description() string {
	return "Decompose a task into subtasks and run them through parallel TDD phases (RED, GREEN, REFACTOR) with a quality gate."
}

func (h *ParallelAgentsHandler) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "High-level development task",
			},
			"max_parallel": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 6,
			},
			"max_iterations": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 5,
			},
			"iterate_until_quality": map[string]interface{}{
				"type":        "boolean",
				"description": "Re-run all phases with feedback until the gate passes or iterations run out",
			},
			"work_directory": map[string]interface{}{
				"type":        "string",
				"description": "Directory for phase artifacts when write_files is set",
			},
			"write_files": map[string]interface{}{
				"type": "boolean",
			},
		},
		"required": []interface{}{"task"},
	}
}

// subtask carries one decomposed unit through every phase. The id is stable
// across iterations; feedback is the only field mutated between them.
type subtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Feedback    string `json:"feedback,omitempty"`
}

// phaseResult is one subagent's settled output within a phase. Failed
// entries stay in the slice so every phase has one entry per subtask.
type phaseResult struct {
	SubtaskID string `json:"subtask_id"`
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// qualityVerdict is the gate's judgment over one full iteration.
type qualityVerdict struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Feedback    []string `json:"feedback,omitempty"`
	ParseFailed bool     `json:"verdict_parse_failed,omitempty"`
}

// iterationSnapshot records one full pipeline pass.
type iterationSnapshot struct {
	Iteration int            `json:"iteration"`
	Red       []phaseResult  `json:"red"`
	Green     []phaseResult  `json:"green"`
	Refactor  []phaseResult  `json:"refactor"`
	Quality   qualityVerdict `json:"quality"`
}

func (h *ParallelAgentsHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	task := argString(args, "task", "")
	maxParallel := clampInt(argInt(args, "max_parallel", 2), 1, 6)
	maxIters := clampInt(argInt(args, "max_iterations", 3), 1, 5)
	iterate := argBool(args, "iterate_until_quality", false)
	workDir := argString(args, "work_directory", "")
	writeFiles := argBool(args, "write_files", false) && workDir != ""

	subtasks, err := h.decompose(ctx, task)
	if err != nil {
		return nil, err
	}

	var (
		snapshots []iterationSnapshot
		verdict   qualityVerdict
	)
	for iter := 1; iter <= maxIters; iter++ {
		snap := iterationSnapshot{Iteration: iter}

		snap.Red = h.runPhase(ctx, phaseRed, subtasks, nil, maxParallel, task)
		snap.Green = h.runPhase(ctx, phaseGreen, subtasks, snap.Red, maxParallel, task)
		snap.Refactor = h.runPhase(ctx, phaseRefactor, subtasks, snap.Green, maxParallel, task)

		// REFACTOR failures keep the GREEN implementation as the final code.
		for i := range snap.Refactor {
			if !snap.Refactor[i].Success && snap.Green[i].Success {
				snap.Refactor[i].Code = snap.Green[i].Code
			}
		}

		if writeFiles {
			h.persistArtifacts(workDir, snap)
		}

		verdict = h.qualityGate(ctx, task, subtasks, snap.Red, snap.Refactor, snap.Green)
		snap.Quality = verdict
		snapshots = append(snapshots, snap)

		if verdict.Passed || !iterate || iter == maxIters {
			break
		}
		applyFeedback(subtasks, verdict)
	}

	final := snapshots[len(snapshots)-1]
	return map[string]interface{}{
		"passed":     verdict.Passed,
		"score":      verdict.Score,
		"iterations": len(snapshots),
		"subtasks":   subtasks,
		"red":        final.Red,
		"green":      final.Green,
		"refactor":   final.Refactor,
		"quality":    verdict,
		"history":    snapshots,
		"metadata": map[string]interface{}{
			"max_parallel": maxParallel,
		},
	}, nil
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*?\]`)
var listItemRe = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|-|\*)\s+(.+)$`)

// decompose asks the decomposer role for 2-5 atomic subtasks, with a lenient
// list-parsing fallback for non-JSON responses. Fewer than 2 parsed subtasks
// is an error; more than 5 are truncated.
func (h *ParallelAgentsHandler) decompose(ctx context.Context, task string) ([]*subtask, error) {
	out, err := h.env.runRole(ctx, h.roles[RoleTDDDecomposer], task)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	var descriptions []string
	if raw := jsonArrayRe.FindString(out.Content); raw != "" {
		_ = json.Unmarshal([]byte(raw), &descriptions)
	}
	if len(descriptions) == 0 {
		for _, m := range listItemRe.FindAllStringSubmatch(out.Content, -1) {
			descriptions = append(descriptions, strings.TrimSpace(m[1]))
		}
	}
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("decompose: no subtasks in decomposer output")
	}
	if len(descriptions) < 2 {
		return nil, fmt.Errorf("decompose: need at least 2 subtasks, got %d", len(descriptions))
	}
	if len(descriptions) > 5 {
		descriptions = descriptions[:5]
	}

	subtasks := make([]*subtask, len(descriptions))
	for i, d := range descriptions {
		subtasks[i] = &subtask{
			ID:          fmt.Sprintf("subtask_%d", i+1),
			Description: d,
		}
	}
	h.env.Logger.Info("task decomposed",
		zap.Int("subtasks", len(subtasks)),
		zap.String("decomposer_backend", out.Backend),
	)
	return subtasks, nil
}

// runPhase drives every subtask through one phase in batches of maxParallel.
// A subagent failure never aborts the phase; the entry is kept with
// success=false so downstream phases see the gap.
func (h *ParallelAgentsHandler) runPhase(ctx context.Context, phase string, subtasks []*subtask, prior []phaseResult, maxParallel int, task string) []phaseResult {
	role := h.phaseRole(phase)
	results := make([]phaseResult, len(subtasks))

	for batchStart := 0; batchStart < len(subtasks); batchStart += maxParallel {
		batchEnd := batchStart + maxParallel
		if batchEnd > len(subtasks) {
			batchEnd = len(subtasks)
		}
		batch := batchEnd - batchStart

		h.env.parallel(ctx, batch, batch, func(offset int) {
			i := batchStart + offset
			st := subtasks[i]
			results[i] = phaseResult{SubtaskID: st.ID}

			prompt := h.phasePrompt(phase, task, st, prior, i)
			out, err := h.env.runRole(ctx, role, prompt)
			if err != nil {
				results[i].Error = err.Error()
				return
			}
			results[i].Success = true
			results[i].Code = ExtractCode(out.Content)
			results[i].Backend = out.Backend
		})
	}
	return results
}

func (h *ParallelAgentsHandler) phaseRole(phase string) Role {
	switch phase {
	case phaseRed:
		return h.roles[RoleTDDTestWriter]
	case phaseGreen:
		return h.roles[RoleTDDImplementer]
	default:
		// REFACTOR reuses the code-reviewer template.
		return h.roles[RoleCodeReviewer]
	}
}

func (h *ParallelAgentsHandler) phasePrompt(phase, task string, st *subtask, prior []phaseResult, i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall task:\n%s\n\nSubtask (%s):\n%s\n", task, st.ID, st.Description)
	if st.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback from the previous iteration:\n%s\n", st.Feedback)
	}

	priorCode := ""
	if prior != nil && prior[i].Success {
		priorCode = prior[i].Code
	}
	switch phase {
	case phaseRed:
		b.WriteString("\nWrite the failing tests that define this subtask's behavior.")
	case phaseGreen:
		if priorCode != "" {
			fmt.Fprintf(&b, "\nTests to make pass:\n```\n%s\n```\n", priorCode)
		} else {
			b.WriteString("\nNo tests were produced for this subtask; implement it from the description.\n")
		}
		b.WriteString("Write the minimal implementation that satisfies the subtask.")
	case phaseRefactor:
		if priorCode != "" {
			fmt.Fprintf(&b, "\nImplementation to refactor:\n```\n%s\n```\n", priorCode)
		} else {
			b.WriteString("\nNo implementation was produced for this subtask.\n")
		}
		b.WriteString("Refactor for clarity without changing behavior, then return the full final code in a fenced block.")
	}
	return b.String()
}

// qualityGate judges a finished iteration. Quick-fail when fewer than half
// the subtasks have successful GREEN output; otherwise the quality reviewer
// sees truncated samples of tests and final implementations.
func (h *ParallelAgentsHandler) qualityGate(ctx context.Context, task string, subtasks []*subtask, red, final, green []phaseResult) qualityVerdict {
	greenOK := 0
	for _, r := range green {
		if r.Success {
			greenOK++
		}
	}
	if greenOK*2 < len(subtasks) {
		feedback := make([]string, len(subtasks))
		for i := range feedback {
			feedback[i] = quickFailFeedback
		}
		return qualityVerdict{
			Passed:   false,
			Score:    0.3,
			Issues:   []string{fmt.Sprintf("only %d of %d subtasks produced implementations", greenOK, len(subtasks))},
			Feedback: feedback,
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall task:\n%s\n\n", task)
	for i, st := range subtasks {
		fmt.Fprintf(&b, "Subtask %s: %s\n", st.ID, st.Description)
		fmt.Fprintf(&b, "Tests:\n%s\n", sample(red[i].Code))
		fmt.Fprintf(&b, "Implementation:\n%s\n\n", sample(final[i].Code))
	}

	out, err := h.env.runRole(ctx, h.roles[RoleTDDQualityReviewer], b.String())
	if err != nil {
		h.env.Logger.Warn("quality reviewer failed", zap.Error(err))
		return qualityVerdict{
			Passed:      false,
			Score:       0.5,
			Issues:      []string{"quality reviewer unavailable: " + err.Error()},
			ParseFailed: true,
		}
	}

	if raw, ok := firstJSONObject(out.Content); ok {
		var v qualityVerdict
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr == nil {
			v.Score = clampFloat(v.Score, 0, 1)
			return v
		}
	}
	// Same lenient fallback rules as verdict parsing.
	heur := ParseVerdict(out.Content)
	return qualityVerdict{
		Passed:      heur.Score >= 0.7,
		Score:       heur.Score,
		Issues:      heur.Issues,
		ParseFailed: true,
	}
}

// applyFeedback annotates subtasks for the next iteration: per-index
// feedback when the gate provided it, else the first issue for all.
func applyFeedback(subtasks []*subtask, v qualityVerdict) {
	fallback := ""
	if len(v.Issues) > 0 {
		fallback = v.Issues[0]
	}
	for i, st := range subtasks {
		if i < len(v.Feedback) && v.Feedback[i] != "" {
			st.Feedback = v.Feedback[i]
		} else {
			st.Feedback = fallback
		}
	}
}

// sample truncates code for the quality reviewer's context budget.
func sample(code string) string {
	if code == "" {
		return "(missing)"
	}
	if len(code) > qualitySampleLen {
		return code[:qualitySampleLen] + "\n...(truncated)"
	}
	return code
}

// persistArtifacts writes phase outputs under workDir/{phase}/. Directory
// setup is idempotent; write failures are logged, never fatal.
func (h *ParallelAgentsHandler) persistArtifacts(workDir string, snap iterationSnapshot) {
	write := func(phase, suffix string, results []phaseResult) {
		dir := filepath.Join(workDir, phase)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			h.env.Logger.Warn("artifact dir", zap.String("dir", dir), zap.Error(err))
			return
		}
		for _, r := range results {
			if !r.Success || r.Code == "" {
				continue
			}
			path := filepath.Join(dir, fmt.Sprintf("%s_%s", r.SubtaskID, suffix))
			if err := os.WriteFile(path, []byte(r.Code), 0o644); err != nil {
				h.env.Logger.Warn("artifact write", zap.String("path", path), zap.Error(err))
			}
		}
	}
	write(phaseRed, "test.txt", snap.Red)
	write(phaseGreen, "impl.txt", snap.Green)
	write(phaseRefactor, "final.txt", snap.Refactor)
}
