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
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerState mirrors gobreaker's state machine in the vocabulary the rest
// of the system uses.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes one backend's circuit breaker.
type BreakerConfig struct {
	// FailThreshold is the consecutive-failure count that opens the circuit.
	FailThreshold uint32
	// Cooldown is how long the circuit stays open before admitting a
	// half-open trial request.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the standard 5-failure / 30s breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailThreshold: 5, Cooldown: 30 * time.Second}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailThreshold == 0 {
		c.FailThreshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker is a per-backend circuit breaker. closed and half_open admit
// requests; open rejects them with ErrCircuitOpen before any transport
// activity. half_open closes on the first success and reopens on any failure.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker for one backend.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // half_open admits exactly one trial request
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. When the circuit is open the function
// is not invoked and ErrCircuitOpen is returned.
func (b *Breaker) Execute(fn func() (*Response, error)) (*Response, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	resp, _ := v.(*Response)
	return resp, nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// Open reports whether the breaker currently rejects requests outright.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ConsecutiveFailures returns the failure count since the last close.
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}
