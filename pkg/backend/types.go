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
// Package backend owns the LLM provider layer: per-kind HTTP adapters,
// per-backend circuit breakers and health state, and the registry that
// executes requests with a global fallback chain.
package backend

import (
	"os"
	"sync"
	"time"
)

// Kind identifies a provider wire shape.
type Kind string

const (
	KindLocal            Kind = "local"
	KindOpenAICompatible Kind = "openai_compatible"
	KindGemini           Kind = "gemini"
	KindNVIDIA           Kind = "nvidia"
	KindGroq             Kind = "groq"
	KindAnthropic        Kind = "anthropic"
)

// Descriptor is the config-loaded, immutable definition of one backend.
type Descriptor struct {
	Name             string `json:"name" mapstructure:"name"`
	Kind             Kind   `json:"kind" mapstructure:"kind"`
	EndpointURL      string `json:"endpoint_url" mapstructure:"endpoint_url"`
	ModelID          string `json:"model_id" mapstructure:"model_id"`
	APIKeyEnv        string `json:"api_key_env" mapstructure:"api_key_env"`
	Priority         int    `json:"priority" mapstructure:"priority"`
	MaxTokensCap     int    `json:"max_tokens_cap" mapstructure:"max_tokens_cap"`
	DefaultTimeoutMs int    `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
}

// APIKey resolves the backend's API key from the environment.
// Local backends have no key env and return "".
func (d Descriptor) APIKey() string {
	if d.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(d.APIKeyEnv)
}

// DefaultTimeout returns the configured per-call timeout, defaulting to 120s.
func (d Descriptor) DefaultTimeout() time.Duration {
	if d.DefaultTimeoutMs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(d.DefaultTimeoutMs) * time.Millisecond
}

// Request is the provider-agnostic call shape. Adapters translate it to
// provider vocabulary; the rest of the system never sees provider fields.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Thinking    bool
}

// Response is the normalized provider response.
type Response struct {
	Content          string
	ReasoningContent string
	TokensUsed       int
	Latency          time.Duration
}

// ProbeResult reports a liveness check. Probes never fail with an error;
// non-reachability is Healthy=false with a reason in Detail.
type ProbeResult struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// Health is the coarse per-backend health classification.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// State is the mutable, registry-owned record for one backend. Every
// configured descriptor has exactly one State for the process lifetime.
// Readers tolerate slightly stale values; health-aware routing is best-effort.
type State struct {
	mu sync.Mutex

	health              Health
	lastProbeAt         time.Time
	consecutiveFailures int
	avgLatency          time.Duration
	inFlight            int
}

func newState() *State {
	return &State{health: HealthUnknown}
}

// Snapshot is a read-only copy of State.
type Snapshot struct {
	Health              Health        `json:"health"`
	LastProbeAt         time.Time     `json:"last_probe_at"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AvgLatency          time.Duration `json:"avg_latency"`
	InFlight            int           `json:"in_flight"`
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Health:              s.health,
		LastProbeAt:         s.lastProbeAt,
		ConsecutiveFailures: s.consecutiveFailures,
		AvgLatency:          s.avgLatency,
		InFlight:            s.inFlight,
	}
}

// Health returns the last known health.
func (s *State) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *State) setHealth(h Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *State) recordProbe(res ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProbeAt = time.Now()
	if res.Healthy {
		// An auth-degraded backend stays degraded until a call succeeds.
		if s.health != HealthDegraded {
			s.health = HealthHealthy
		}
	} else {
		s.health = HealthUnhealthy
	}
}

func (s *State) lastProbe() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProbeAt
}

func (s *State) beginRequest() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *State) endRequest(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err != nil {
		s.consecutiveFailures++
		return
	}
	s.consecutiveFailures = 0
	s.health = HealthHealthy
	if s.avgLatency == 0 {
		s.avgLatency = latency
	} else {
		// EMA with the same smoothing the learning engine uses.
		s.avgLatency = time.Duration(0.2*float64(latency) + 0.8*float64(s.avgLatency))
	}
}
