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
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/patterns"
	"github.com/teradata-labs/relay/pkg/routing"
	"github.com/teradata-labs/relay/pkg/scheduler"
)

// scriptedAdapter answers calls with a scripted function and records the
// requests it saw.
type scriptedAdapter struct {
	name  string
	calls atomic.Int64
	fn    func(req backend.Request) (*backend.Response, error)

	mu   sync.Mutex
	seen []backend.Request
}

func (a *scriptedAdapter) Name() string       { return a.name }
func (a *scriptedAdapter) Kind() backend.Kind { return backend.KindLocal }
func (a *scriptedAdapter) Probe(ctx context.Context) backend.ProbeResult {
	return backend.ProbeResult{Healthy: true}
}
func (a *scriptedAdapter) Call(ctx context.Context, req backend.Request) (*backend.Response, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.seen = append(a.seen, req)
	a.mu.Unlock()
	return a.fn(req)
}

func (a *scriptedAdapter) requests() []backend.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]backend.Request(nil), a.seen...)
}

// deadlineAdapter wraps a scripted adapter and records the remaining context
// deadline observed on each call.
type deadlineAdapter struct {
	scriptedAdapter
	dmu       sync.Mutex
	remaining []time.Duration
}

func (a *deadlineAdapter) Call(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if dl, ok := ctx.Deadline(); ok {
		a.dmu.Lock()
		a.remaining = append(a.remaining, time.Until(dl))
		a.dmu.Unlock()
	}
	return a.scriptedAdapter.Call(ctx, req)
}

func (a *deadlineAdapter) deadlines() []time.Duration {
	a.dmu.Lock()
	defer a.dmu.Unlock()
	return append([]time.Duration(nil), a.remaining...)
}

func reply(content string, tokens int) func(backend.Request) (*backend.Response, error) {
	return func(backend.Request) (*backend.Response, error) {
		return &backend.Response{Content: content, TokensUsed: tokens}, nil
	}
}

// recordingLearner captures outcomes for assertions; Recommend never fires.
type recordingLearner struct {
	mu       sync.Mutex
	outcomes []routing.Outcome
}

func (l *recordingLearner) Recommend(routing.Complexity, routing.TaskType) (routing.Recommendation, bool) {
	return routing.Recommendation{}, false
}

func (l *recordingLearner) Record(o routing.Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

func (l *recordingLearner) recorded() []routing.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]routing.Outcome(nil), l.outcomes...)
}

// withLearner rebuilds env.Router around a recording learner.
func withLearner(env *Env) *recordingLearner {
	l := &recordingLearner{}
	env.Router = routing.NewRouter(env.Registry, l, routing.RulesConfig{}, nil)
	return l
}

// newTestEnv builds an Env over stubbed backends in the given chain order.
// Every backend starts healthy (primed by a sweep).
func newTestEnv(t *testing.T, stubs map[string]*scriptedAdapter, order []string) *Env {
	t.Helper()

	descs := make([]backend.Descriptor, 0, len(order))
	for i, name := range order {
		descs = append(descs, backend.Descriptor{
			Name:     name,
			Kind:     backend.KindLocal,
			Priority: i + 1,
		})
	}
	registry, err := backend.NewRegistry(descs, backend.DefaultBreakerConfig(), nil)
	require.NoError(t, err)
	for name, stub := range stubs {
		require.NoError(t, registry.SetAdapter(name, stub))
	}

	monitor := backend.NewMonitor(registry, nil)
	monitor.Sweep(context.Background())

	store := patterns.NewStore(patterns.Config{
		StatePath: filepath.Join(t.TempDir(), "patterns.json"),
	}, nil)

	sched := scheduler.NewManager(8, nil)
	t.Cleanup(sched.Close)

	return &Env{
		Registry:  registry,
		Router:    routing.NewRouter(registry, nil, routing.RulesConfig{}, nil),
		Monitor:   monitor,
		Patterns:  store,
		Scheduler: sched,
		Logger:    zap.NewNop(),
	}
}
