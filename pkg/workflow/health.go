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
)

// HealthHandler exposes on-demand backend health probes. An empty backend
// name sweeps every configured backend in parallel.
type HealthHandler struct {
	env *Env
}

var _ Handler = (*HealthHandler)(nil)

// NewHealthHandler builds the check_backend_health tool.
func NewHealthHandler(env *Env) *HealthHandler {
	return &HealthHandler{env: env}
}

func (h *HealthHandler) Name() string { return "check_backend_health" }

func (h *HealthHandler) Description() string {
	return "Probe one backend's health (cached for 5 minutes unless force=true), or all backends when the name is empty."
}

func (h *HealthHandler) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"backend": map[string]interface{}{
				"type":        "string",
				"description": "Backend name; empty for a full sweep",
			},
			"force": map[string]interface{}{
				"type":        "boolean",
				"description": "Bypass the probe cache",
			},
		},
	}
}

func (h *HealthHandler) Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	name := argString(args, "backend", "")
	force := argBool(args, "force", false)

	if name == "" {
		sweep := h.env.Monitor.Sweep(ctx)
		out := make(map[string]interface{}, len(sweep))
		for backendName, res := range sweep {
			out[backendName] = probePayload(h.env, backendName, res.Healthy, res.Latency.Milliseconds(), res.Detail)
		}
		return map[string]interface{}{"backends": out}, nil
	}

	res, err := h.env.Monitor.Check(ctx, name, force)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return map[string]interface{}{
		"backend": probePayload(h.env, name, res.Healthy, res.Latency.Milliseconds(), res.Detail),
	}, nil
}

// probePayload joins a probe result with the registry's view of the backend.
func probePayload(env *Env, name string, healthy bool, latencyMs int64, detail string) map[string]interface{} {
	payload := map[string]interface{}{
		"name":       name,
		"healthy":    healthy,
		"latency_ms": latencyMs,
	}
	if detail != "" {
		payload["detail"] = detail
	}
	if snap, ok := env.Registry.StateSnapshot(name); ok {
		payload["health"] = string(snap.Health)
		payload["consecutive_failures"] = snap.ConsecutiveFailures
		payload["avg_latency_ms"] = snap.AvgLatency.Milliseconds()
		payload["in_flight"] = snap.InFlight
	}
	if state, ok := env.Registry.BreakerState(name); ok {
		payload["breaker"] = string(state)
	}
	return payload
}
