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
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is the structured judgment reviewer-style roles emit.
type Verdict struct {
	Score       float64  `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Summary     string   `json:"summary,omitempty"`
	ParseFailed bool     `json:"verdict_parse_failed,omitempty"`
}

var (
	fencedCodeRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\n(.*?)```")

	positiveRe = regexp.MustCompile(`(?i)\b(good|solid|correct|clean|well|approve|lgtm|passes)\b`)
	negativeRe = regexp.MustCompile(`(?i)\b(bug|broken|wrong|fail|incorrect|missing|unsafe|vulnerab|error)\b`)
)

// ParseVerdict extracts the first {...} JSON object from an LLM response
// and projects it into a Verdict with the score clamped to [0,1]. Responses
// without a parseable object fall back to keyword-based heuristic scoring
// with verdict_parse_failed set.
func ParseVerdict(text string) Verdict {
	if raw, ok := firstJSONObject(text); ok {
		var v Verdict
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			v.Score = clampFloat(v.Score, 0, 1)
			return v
		}
	}

	// Lenient fallback: score from sentiment keywords.
	v := Verdict{
		Issues:      []string{"Could not parse structured review"},
		ParseFailed: true,
	}
	pos := positiveRe.MatchString(text)
	neg := negativeRe.MatchString(text)
	switch {
	case pos && !neg:
		v.Score = 0.8
	case neg && !pos:
		v.Score = 0.4
	default:
		v.Score = 0.6
	}
	return v
}

// firstJSONObject returns the first balanced {...} substring, skipping
// braces inside JSON strings.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractCode returns the first fenced code block from an LLM response,
// falling back to the trimmed full text when no fence is present.
func ExtractCode(text string) string {
	if m := fencedCodeRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
