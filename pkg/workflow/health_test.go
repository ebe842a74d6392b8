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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/relay/pkg/backend"
)

func TestHealthHandler_NamedBackend(t *testing.T) {
	stub := &scriptedAdapter{name: "local", fn: reply("pong", 1)}
	env := newTestEnv(t, map[string]*scriptedAdapter{"local": stub}, []string{"local"})
	h := NewHealthHandler(env)

	result, err := h.Handle(context.Background(), map[string]interface{}{
		"backend": "local",
	})
	require.NoError(t, err)

	payload := result["backend"].(map[string]interface{})
	assert.Equal(t, "local", payload["name"])
	assert.Equal(t, true, payload["healthy"])
	assert.Contains(t, payload, "latency_ms")
	assert.Equal(t, string(backend.HealthHealthy), payload["health"])
	assert.Equal(t, string(backend.BreakerClosed), payload["breaker"])
	assert.Equal(t, 0, payload["consecutive_failures"])
}

func TestHealthHandler_SweepAll(t *testing.T) {
	stubs := map[string]*scriptedAdapter{
		"alpha": {name: "alpha", fn: reply("a", 1)},
		"beta":  {name: "beta", fn: reply("b", 1)},
	}
	env := newTestEnv(t, stubs, []string{"alpha", "beta"})
	h := NewHealthHandler(env)

	result, err := h.Handle(context.Background(), map[string]interface{}{})
	require.NoError(t, err)

	backends := result["backends"].(map[string]interface{})
	require.Len(t, backends, 2)
	for _, name := range []string{"alpha", "beta"} {
		payload, ok := backends[name].(map[string]interface{})
		require.True(t, ok, name)
		assert.Equal(t, name, payload["name"])
		assert.Equal(t, true, payload["healthy"])
	}
}

func TestHealthHandler_UnknownBackend(t *testing.T) {
	stub := &scriptedAdapter{name: "local", fn: reply("pong", 1)}
	env := newTestEnv(t, map[string]*scriptedAdapter{"local": stub}, []string{"local"})
	h := NewHealthHandler(env)

	_, err := h.Handle(context.Background(), map[string]interface{}{
		"backend": "nope",
	})
	assert.ErrorContains(t, err, "health check")
}
