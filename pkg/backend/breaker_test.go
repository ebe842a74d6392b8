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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall() (*Response, error) {
	return nil, ErrTransport
}

func okCall() (*Response, error) {
	return &Response{Content: "ok"}, nil
}

func TestBreaker_OpensAfterExactlyThresholdFailures(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailThreshold: 5, Cooldown: time.Minute}, nil)

	for i := 0; i < 4; i++ {
		_, err := b.Execute(failingCall)
		require.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, BreakerClosed, b.State(), "breaker must stay closed before the threshold (failure %d)", i+1)
	}

	// 5th consecutive failure trips the circuit.
	_, err := b.Execute(failingCall)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailThreshold: 2, Cooldown: time.Minute}, nil)
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall)
	}
	require.Equal(t, BreakerOpen, b.State())

	invoked := false
	_, err := b.Execute(func() (*Response, error) {
		invoked = true
		return okCall()
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must reject before the call")
}

func TestBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailThreshold: 2, Cooldown: 50 * time.Millisecond}, nil)
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall)
	}
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	resp, err := b.Execute(okCall)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailThreshold: 2, Cooldown: 50 * time.Millisecond}, nil)
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(failingCall)
	}
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	_, err := b.Execute(failingCall)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailThreshold: 5, Cooldown: time.Minute}, nil)

	for i := 0; i < 4; i++ {
		_, _ = b.Execute(failingCall)
	}
	assert.Equal(t, uint32(4), b.ConsecutiveFailures())

	_, err := b.Execute(okCall)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.ConsecutiveFailures())

	// Four more failures after the reset must not open the circuit.
	for i := 0; i < 4; i++ {
		_, _ = b.Execute(failingCall)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	cfg := BreakerConfig{}.withDefaults()
	assert.Equal(t, uint32(5), cfg.FailThreshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)
}

func TestBreaker_ErrorPassthrough(t *testing.T) {
	b := NewBreaker("test", DefaultBreakerConfig(), nil)
	custom := errors.New("provider exploded")
	_, err := b.Execute(func() (*Response, error) { return nil, custom })
	assert.ErrorIs(t, err, custom)
}
