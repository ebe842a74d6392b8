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
	"github.com/teradata-labs/relay/pkg/routing"
)

// SubagentHandler runs one role-templated task on one backend. No iteration.
type SubagentHandler struct {
	env   *Env
	roles map[string]Role
}

var _ Handler = (*SubagentHandler)(nil)

// NewSubagentHandler builds the spawn_subagent tool over a role registry.
func NewSubagentHandler(env *Env, roles map[string]Role) *SubagentHandler {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &SubagentHandler{env: env, roles: roles}
}

func (h *SubagentHandler) Name() string { return "spawn_subagent" }

func (h *SubagentHandler) Description() string {
	return "Run a role-specialized AI subagent (code-reviewer, security-auditor, planner, ...) on a single task."
}

func (h *SubagentHandler) InputSchema() map[string]interface{} {
	roleNames := make([]interface{}, 0, len(h.roles))
	for name := range h.roles {
		roleNames = append(roleNames, name)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"role": map[string]interface{}{
				"type":        "string",
				"description": "Subagent role template to apply",
				"enum":        roleNames,
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task for the subagent",
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Additional context (code, files, constraints)",
			},
			"file_patterns": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Glob patterns naming files the task concerns",
			},
			"verdict_mode": map[string]interface{}{
				"type":        "boolean",
				"description": "Force structured verdict parsing regardless of the role default",
			},
		},
		"required": []interface{}{"role", "task"},
	}
}

func (h *SubagentHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	roleName := argString(args, "role", "")
	role, ok := h.roles[roleName]
	if !ok {
		return nil, fmt.Errorf("unknown role: %s", roleName)
	}

	task := argString(args, "task", "")
	if extra := argString(args, "context", ""); extra != "" {
		task = task + "\n\nContext:\n" + extra
	}
	if patterns, ok := args["file_patterns"].([]interface{}); ok && len(patterns) > 0 {
		parts := make([]string, 0, len(patterns))
		for _, p := range patterns {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			task = task + "\n\nRelevant files: " + strings.Join(parts, ", ")
		}
	}

	out, err := h.env.runRole(ctx, role, task)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"role":         role.Name,
		"text_content": out.Content,
		"backend_used": out.Backend,
		"metadata": map[string]interface{}{
			"latency_ms":     out.LatencyMs,
			"fallback_chain": out.Attempted,
		},
	}
	if role.ParseVerdict || argBool(args, "verdict_mode", false) {
		result["verdict"] = ParseVerdict(out.Content)
	}
	return result, nil
}

// roleOutput is the normalized result of one role-templated backend call.
type roleOutput struct {
	Content   string
	Backend   string
	Attempted []string
	LatencyMs int64
}

// runRole picks a healthy backend from the role's preferences (falling
// through the global fallback chain when none is) and issues one request
// bounded by the dynamic timeout. Every settled request is reported to the
// learning engine. Shared by spawn_subagent, dual_iterate, and
// parallel_agents.
func (e *Env) runRole(ctx context.Context, role Role, task string) (*roleOutput, error) {
	preferred := ""
	source := routing.SourceRules
	for _, name := range role.RecommendedBackends {
		if e.Registry.Healthy(name) {
			preferred = name
			break
		}
	}
	if preferred == "" {
		source = routing.SourceFallback
		for _, name := range e.Registry.FallbackChain() {
			if e.Registry.Healthy(name) {
				preferred = name
				break
			}
		}
	}
	if preferred == "" {
		// Nothing healthy; let the chain head take the attempt.
		if chain := e.Registry.FallbackChain(); len(chain) > 0 {
			preferred = chain[0]
		} else {
			return nil, fmt.Errorf("no backends configured")
		}
	}

	req := backend.Request{
		Prompt:      task,
		System:      role.SystemPrompt,
		MaxTokens:   role.MaxTokens,
		Temperature: role.Temperature,
	}

	rctx := routing.DeriveContext(task, role.MaxTokens, "")
	desc, _ := e.Registry.Descriptor(preferred)
	ctx, cancel := context.WithTimeout(ctx, routing.DynamicTimeout(rctx, task, desc.Kind == backend.KindLocal))
	defer cancel()

	start := time.Now()
	fb, err := e.Registry.RequestWithFallback(ctx, preferred, req)
	if err != nil {
		e.observe(rctx, preferred, false, time.Since(start), source)
		return nil, fmt.Errorf("subagent %s: %w", role.Name, err)
	}
	e.observe(rctx, fb.UsedBackend, true, time.Since(start), source)
	return &roleOutput{
		Content:   fb.Response.Content,
		Backend:   fb.UsedBackend,
		Attempted: fb.Attempted,
		LatencyMs: fb.Response.Latency.Milliseconds(),
	}, nil
}
