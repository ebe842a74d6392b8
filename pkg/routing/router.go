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
package routing

import (
	"go.uber.org/zap"
)

// learningConfidenceFloor gates the learning tier: recommendations at or
// below this confidence fall through to the rules tier.
const learningConfidenceFloor = 0.7

// Backends is the health view the router needs. The backend registry
// satisfies it.
type Backends interface {
	// Healthy reports available and last observed healthy.
	Healthy(name string) bool
	// Available reports that the breaker admits requests.
	Available(name string) bool
	// FallbackChain returns the global priority-ordered chain.
	FallbackChain() []string
}

// RulesConfig names the backends the fixed heuristics prefer.
type RulesConfig struct {
	// ComplexBackend handles complexity=complex requests (default nvidia_qwen).
	ComplexBackend string `mapstructure:"complex_backend"`
	// CodeBackend handles task_type=code requests (default nvidia_deepseek).
	CodeBackend string `mapstructure:"code_backend"`
}

func (c RulesConfig) withDefaults() RulesConfig {
	if c.ComplexBackend == "" {
		c.ComplexBackend = "nvidia_qwen"
	}
	if c.CodeBackend == "" {
		c.CodeBackend = "nvidia_deepseek"
	}
	return c
}

// Router selects a backend for each request with a 4-tier policy:
// forced, learning, rules, fallback chain head.
type Router struct {
	backends Backends
	learner  Learner
	rules    RulesConfig
	logger   *zap.Logger
}

// NewRouter builds a router. learner may be nil, which disables tier 2.
func NewRouter(backends Backends, learner Learner, rules RulesConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		backends: backends,
		learner:  learner,
		rules:    rules.withDefaults(),
		logger:   logger,
	}
}

// Select picks a backend for the request.
func (r *Router) Select(rctx Context) Decision {
	decision := r.selectTiered(rctx)
	r.logger.Debug("routing decision",
		zap.String("backend", decision.Backend),
		zap.String("source", string(decision.Source)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("complexity", string(rctx.Complexity)),
		zap.String("task_type", string(rctx.TaskType)),
	)
	return decision
}

func (r *Router) selectTiered(rctx Context) Decision {
	// Tier 1: forced. The caller owns any downstream fallback.
	if rctx.ForcedBackend != "" && rctx.ForcedBackend != "auto" {
		return Decision{
			Backend:    rctx.ForcedBackend,
			Source:     SourceForced,
			Confidence: 1.0,
			Reasoning:  "caller forced backend",
		}
	}

	// Tier 2: learning, gated on confidence and current health.
	if r.learner != nil {
		if rec, ok := r.learner.Recommend(rctx.Complexity, rctx.TaskType); ok {
			if rec.Confidence > learningConfidenceFloor && r.backends.Healthy(rec.Backend) {
				return Decision{
					Backend:    rec.Backend,
					Source:     SourceLearning,
					Confidence: rec.Confidence,
					Reasoning:  rec.Reason,
				}
			}
		}
	}

	// Tier 3: fixed heuristics.
	if rctx.Complexity == ComplexityComplex && r.backends.Healthy(r.rules.ComplexBackend) {
		return Decision{
			Backend:    r.rules.ComplexBackend,
			Source:     SourceRules,
			Confidence: 0.8,
			Reasoning:  "complex task rule",
		}
	}
	if rctx.TaskType == TaskCode && r.backends.Healthy(r.rules.CodeBackend) {
		return Decision{
			Backend:    r.rules.CodeBackend,
			Source:     SourceRules,
			Confidence: 0.8,
			Reasoning:  "code task rule",
		}
	}

	// Tier 4: first healthy backend in the global chain; if none, the chain
	// head (the breaker carries the consequences).
	chain := r.backends.FallbackChain()
	for _, name := range chain {
		if r.backends.Healthy(name) {
			return Decision{
				Backend:    name,
				Source:     SourceFallback,
				Confidence: 0.5,
				Reasoning:  "first healthy in fallback chain",
			}
		}
	}
	if len(chain) > 0 {
		return Decision{
			Backend:    chain[0],
			Source:     SourceFallback,
			Confidence: 0.1,
			Reasoning:  "no healthy backend, chain head",
		}
	}
	return Decision{Source: SourceFallback, Reasoning: "no backends configured"}
}

// Observe forwards a completed request's outcome to the learning engine.
// Recording never fails; persistence problems are the engine's to log.
func (r *Router) Observe(o Outcome) {
	if r.learner != nil {
		r.learner.Record(o)
	}
}
