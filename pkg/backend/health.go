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
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultProbeInterval is the periodic sweep cadence.
	defaultProbeInterval = 30 * time.Second
	// defaultProbeCacheTTL is how long an on-demand probe result stays fresh.
	defaultProbeCacheTTL = 5 * time.Minute
	// sweepDeadline bounds a whole parallel health sweep.
	sweepDeadline = 3 * time.Second
)

// Monitor maintains per-backend health via periodic and on-demand probes.
// No request is ever gated on a synchronous probe; the health signal only
// informs ordering decisions in the fallback chain and router.
type Monitor struct {
	registry *Registry
	logger   *zap.Logger
	interval time.Duration
	cacheTTL time.Duration

	mu     sync.Mutex
	cached map[string]ProbeResult
}

// NewMonitor builds a health monitor over the registry's backends.
func NewMonitor(registry *Registry, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		registry: registry,
		logger:   logger,
		interval: defaultProbeInterval,
		cacheTTL: defaultProbeCacheTTL,
		cached:   make(map[string]ProbeResult),
	}
}

// Start runs the periodic probe loop until the context is cancelled.
// Run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Prime health state once at startup.
	m.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("health monitor stopping")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Check probes one backend, honoring the result cache unless force is set.
func (m *Monitor) Check(ctx context.Context, name string, force bool) (ProbeResult, error) {
	adapter, ok := m.registry.adapters[name]
	if !ok {
		return ProbeResult{}, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}

	if !force {
		m.mu.Lock()
		cached, hit := m.cached[name]
		m.mu.Unlock()
		if hit && time.Since(m.registry.states[name].lastProbe()) < m.cacheTTL {
			return cached, nil
		}
	}

	res := adapter.Probe(ctx)
	m.record(name, res)
	return res, nil
}

// Sweep probes every backend in parallel under a single deadline and
// returns the per-backend results.
func (m *Monitor) Sweep(ctx context.Context) map[string]ProbeResult {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepDeadline)
	defer cancel()

	results := make(map[string]ProbeResult, len(m.registry.chain))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(sweepCtx)
	for _, name := range m.registry.chain {
		name := name
		adapter := m.registry.adapters[name]
		g.Go(func() error {
			res := adapter.Probe(gctx)
			m.record(name, res)
			resultsMu.Lock()
			results[name] = res
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, res := range results {
		if res.Healthy {
			healthy++
		}
	}
	m.logger.Debug("health sweep complete",
		zap.Int("healthy", healthy),
		zap.Int("total", len(results)),
	)
	return results
}

func (m *Monitor) record(name string, res ProbeResult) {
	m.registry.states[name].recordProbe(res)
	m.mu.Lock()
	m.cached[name] = res
	m.mu.Unlock()
}
