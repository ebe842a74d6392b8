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
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Registry is the single entry point for issuing calls to one or more
// backends. It owns the adapters, breakers, and health state, and derives
// the global fallback chain from ascending descriptor priority at load.
type Registry struct {
	logger      *zap.Logger
	descriptors map[string]Descriptor
	adapters    map[string]Adapter
	breakers    map[string]*Breaker
	states      map[string]*State
	chain       []string
}

// FallbackResult reports a fallback-chain execution: the winning response,
// which backend produced it, and every backend attempted in order.
type FallbackResult struct {
	Response    *Response
	UsedBackend string
	Attempted   []string
}

// NewRegistry builds adapters, breakers, and state entries for every
// descriptor. The fallback chain is ordered by ascending priority with name
// as tiebreaker.
func NewRegistry(descs []Descriptor, breakerCfg BreakerConfig, logger *zap.Logger) (*Registry, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		logger:      logger,
		descriptors: make(map[string]Descriptor, len(descs)),
		adapters:    make(map[string]Adapter, len(descs)),
		breakers:    make(map[string]*Breaker, len(descs)),
		states:      make(map[string]*State, len(descs)),
	}

	ordered := make([]Descriptor, len(descs))
	copy(ordered, descs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	for _, desc := range ordered {
		if _, dup := r.descriptors[desc.Name]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", desc.Name)
		}
		adapter, err := NewAdapter(desc)
		if err != nil {
			return nil, err
		}
		r.descriptors[desc.Name] = desc
		r.adapters[desc.Name] = adapter
		r.breakers[desc.Name] = NewBreaker(desc.Name, breakerCfg, logger)
		r.states[desc.Name] = newState()
		r.chain = append(r.chain, desc.Name)
	}

	logger.Info("backend registry initialized",
		zap.Int("backends", len(r.chain)),
		zap.Strings("fallback_chain", r.chain),
	)
	return r, nil
}

// SetAdapter replaces a backend's adapter. Intended for tests that stub the
// HTTP layer; the name must already be registered.
func (r *Registry) SetAdapter(name string, a Adapter) error {
	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	r.adapters[name] = a
	return nil
}

// Names returns every registered backend name in fallback-chain order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.chain))
	copy(out, r.chain)
	return out
}

// FallbackChain returns the global priority-ordered chain.
func (r *Registry) FallbackChain() []string {
	return r.Names()
}

// Descriptor returns a backend's immutable descriptor.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// StateSnapshot returns a copy of a backend's mutable state.
func (r *Registry) StateSnapshot(name string) (Snapshot, bool) {
	s, ok := r.states[name]
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// BreakerState returns a backend's current breaker state.
func (r *Registry) BreakerState(name string) (BreakerState, bool) {
	b, ok := r.breakers[name]
	if !ok {
		return "", false
	}
	return b.State(), true
}

// Available reports whether a backend admits requests: registered and its
// breaker is not open.
func (r *Registry) Available(name string) bool {
	b, ok := r.breakers[name]
	return ok && !b.Open()
}

// Healthy reports whether a backend is both available and last observed
// healthy. Used by the router's learning and rules tiers.
func (r *Registry) Healthy(name string) bool {
	if !r.Available(name) {
		return false
	}
	return r.states[name].Health() == HealthHealthy
}

// Request executes one call on the named backend under its breaker, bounded
// by the smaller of the caller deadline and the backend's default timeout.
func (r *Registry) Request(ctx context.Context, name string, req Request) (*Response, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	breaker := r.breakers[name]
	state := r.states[name]
	desc := r.descriptors[name]

	state.beginRequest()
	start := time.Now()
	resp, err := breaker.Execute(func() (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, desc.DefaultTimeout())
		defer cancel()
		return adapter.Call(callCtx, req)
	})
	latency := time.Since(start)
	state.endRequest(latency, err)

	if err != nil {
		if errors.Is(err, ErrAuth) {
			state.setHealth(HealthDegraded)
		}
		r.logger.Warn("backend request failed",
			zap.String("backend", name),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}

	r.logger.Debug("backend request ok",
		zap.String("backend", name),
		zap.Duration("latency", latency),
		zap.Int("tokens", resp.TokensUsed),
	)
	return resp, nil
}

// RequestWithFallback tries the preferred backend first, then walks the
// global fallback chain in priority order, skipping backends whose breaker
// is open or whose last known health is unhealthy. It stops on the first
// success. On total failure the returned FallbackResult still carries the
// attempted list, and the error aggregates every per-backend cause.
//
// The preferred backend is always attempted (its own breaker may still
// reject it) and is not re-inserted into the chain on failure.
func (r *Registry) RequestWithFallback(ctx context.Context, preferred string, req Request) (*FallbackResult, error) {
	candidates := make([]string, 0, len(r.chain)+1)
	if _, ok := r.descriptors[preferred]; ok {
		candidates = append(candidates, preferred)
	}
	for _, name := range r.chain {
		if name != preferred {
			candidates = append(candidates, name)
		}
	}

	result := &FallbackResult{}
	var causes []error
	for _, name := range candidates {
		if name != preferred {
			if !r.Available(name) || r.states[name].Health() == HealthUnhealthy {
				continue
			}
		}

		result.Attempted = append(result.Attempted, name)
		resp, err := r.Request(ctx, name, req)
		if err == nil {
			result.Response = resp
			result.UsedBackend = name
			if len(result.Attempted) > 1 {
				r.logger.Info("fallback succeeded",
					zap.String("preferred", preferred),
					zap.String("used", name),
					zap.Strings("attempted", result.Attempted),
				)
			}
			return result, nil
		}
		causes = append(causes, err)

		if ctx.Err() != nil {
			break
		}
	}

	if len(causes) == 0 {
		causes = append(causes, fmt.Errorf("%w: %s", ErrUnknownBackend, preferred))
	}
	return result, fmt.Errorf("all backends failed (%d attempted): %w",
		len(result.Attempted), errors.Join(causes...))
}
