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

// Role is a plain configuration record for one subagent specialization.
// No inheritance: every role stands alone and the single subagent path
// reads the record.
type Role struct {
	Name                string   `json:"name"`
	SystemPrompt        string   `json:"system_prompt"`
	RecommendedBackends []string `json:"recommended_backends"`
	MaxTokens           int      `json:"max_tokens"`
	Temperature         float64  `json:"temperature"`
	ParseVerdict        bool     `json:"parse_verdict"`
}

// Role names used by the TDD pipeline phases.
const (
	RoleCodeReviewer       = "code-reviewer"
	RoleSecurityAuditor    = "security-auditor"
	RolePlanner            = "planner"
	RoleRefactorSpecialist = "refactor-specialist"
	RoleTestGenerator      = "test-generator"
	RoleDocWriter          = "documentation-writer"
	RoleTDDDecomposer      = "tdd-decomposer"
	RoleTDDTestWriter      = "tdd-test-writer"
	RoleTDDImplementer     = "tdd-implementer"
	RoleTDDQualityReviewer = "tdd-quality-reviewer"
)

// DefaultRoles returns the built-in role registry. Backend preferences can
// be overridden from config before the handlers are constructed.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		RoleCodeReviewer: {
			Name: RoleCodeReviewer,
			SystemPrompt: "You are a senior code reviewer. Examine the code for correctness, " +
				"readability, and maintainability. Respond with a JSON object " +
				`{"score": 0.0-1.0, "issues": [...], "suggestions": [...], "summary": "..."}.`,
			RecommendedBackends: []string{"nvidia_deepseek", "nvidia_qwen"},
			MaxTokens:           4096,
			Temperature:         0.3,
			ParseVerdict:        true,
		},
		RoleSecurityAuditor: {
			Name: RoleSecurityAuditor,
			SystemPrompt: "You are a security auditor. Identify vulnerabilities, unsafe input " +
				"handling, and secrets exposure. Respond with a JSON object " +
				`{"score": 0.0-1.0, "issues": [...], "suggestions": [...], "summary": "..."}.`,
			RecommendedBackends: []string{"nvidia_qwen", "gemini"},
			MaxTokens:           4096,
			Temperature:         0.2,
			ParseVerdict:        true,
		},
		RolePlanner: {
			Name: RolePlanner,
			SystemPrompt: "You are a software planner. Break the task into concrete, ordered " +
				"implementation steps with clear acceptance criteria.",
			RecommendedBackends: []string{"nvidia_qwen", "gemini"},
			MaxTokens:           4096,
			Temperature:         0.5,
			ParseVerdict:        false,
		},
		RoleRefactorSpecialist: {
			Name: RoleRefactorSpecialist,
			SystemPrompt: "You are a refactoring specialist. Improve structure and naming while " +
				"preserving behavior exactly. Return the full refactored code in a fenced block.",
			RecommendedBackends: []string{"nvidia_deepseek", "local"},
			MaxTokens:           8192,
			Temperature:         0.3,
			ParseVerdict:        false,
		},
		RoleTestGenerator: {
			Name: RoleTestGenerator,
			SystemPrompt: "You are a test engineer. Write thorough tests for the given code, " +
				"covering edge cases and failure paths. Return tests in a fenced code block.",
			RecommendedBackends: []string{"nvidia_deepseek", "local"},
			MaxTokens:           8192,
			Temperature:         0.4,
			ParseVerdict:        false,
		},
		RoleDocWriter: {
			Name: RoleDocWriter,
			SystemPrompt: "You are a technical writer. Produce clear, accurate documentation for " +
				"the given code or API.",
			RecommendedBackends: []string{"gemini", "groq"},
			MaxTokens:           4096,
			Temperature:         0.6,
			ParseVerdict:        false,
		},
		RoleTDDDecomposer: {
			Name: RoleTDDDecomposer,
			SystemPrompt: "You decompose a development task into 2-5 atomic, independent subtasks. " +
				`Respond ONLY with a JSON array of subtask descriptions: ["...", "..."].`,
			RecommendedBackends: []string{"nvidia_qwen", "gemini"},
			MaxTokens:           2048,
			Temperature:         0.3,
			ParseVerdict:        false,
		},
		RoleTDDTestWriter: {
			Name: RoleTDDTestWriter,
			SystemPrompt: "You write failing tests first. Given a subtask, write the tests that " +
				"define its behavior before any implementation exists. Return tests in a fenced block.",
			RecommendedBackends: []string{"nvidia_deepseek", "local"},
			MaxTokens:           8192,
			Temperature:         0.4,
			ParseVerdict:        false,
		},
		RoleTDDImplementer: {
			Name: RoleTDDImplementer,
			SystemPrompt: "You implement the minimal code that makes the given tests pass. " +
				"Return the implementation in a fenced code block.",
			RecommendedBackends: []string{"nvidia_deepseek", "local"},
			MaxTokens:           8192,
			Temperature:         0.3,
			ParseVerdict:        false,
		},
		RoleTDDQualityReviewer: {
			Name: RoleTDDQualityReviewer,
			SystemPrompt: "You are the quality gate for a TDD pipeline. Judge whether the tests and " +
				"implementations together meet the task. Respond with a JSON object " +
				`{"score": 0.0-1.0, "passed": true/false, "issues": [...], "feedback": [...]}.`,
			RecommendedBackends: []string{"nvidia_qwen", "gemini"},
			MaxTokens:           4096,
			Temperature:         0.2,
			ParseVerdict:        true,
		},
	}
}
