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

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestManager_RunsWork(t *testing.T) {
	m := NewManager(4, nil)
	defer m.Close()

	ran := false
	err := m.Do(context.Background(), PriorityNormal, func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestManager_BoundsConcurrency(t *testing.T) {
	const limit = 3
	m := NewManager(limit, nil)
	defer m.Close()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), PriorityNormal, func() {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.GreaterOrEqual(t, peak.Load(), int64(2), "work should actually overlap")
}

func TestManager_PriorityDrainsFirst(t *testing.T) {
	// Single concurrency slot so the execution order is observable.
	m := NewManager(1, nil)
	defer m.Close()

	var mu sync.Mutex
	var order []string
	record := func(tag string) func() {
		return func() {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	// Occupy the slot so the queues build up behind it.
	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Do(context.Background(), PriorityNormal, func() {
			close(blockerStarted)
			<-release
		})
	}()
	<-blockerStarted

	submit := func(tag string, p Priority) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), p, record(tag))
		}()
		time.Sleep(20 * time.Millisecond) // let the task enqueue in order
	}
	submit("normal-1", PriorityNormal)
	submit("normal-2", PriorityNormal)
	submit("probe", PriorityHigh)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Less(t, indexOf(order, "probe"), indexOf(order, "normal-2"),
		"priority lane drains before queued FIFO work")
}

func TestManager_CancelBeforeStart(t *testing.T) {
	m := NewManager(1, nil)
	defer m.Close()

	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Do(context.Background(), PriorityNormal, func() {
			close(blockerStarted)
			<-release
		})
	}()
	<-blockerStarted

	ctx, cancel := context.WithCancel(context.Background())
	ran := atomic.Bool{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Do(ctx, PriorityNormal, func() { ran.Store(true) })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "cancelled-before-start work must not run")
}

func TestManager_CancelAfterStartWaitsItOut(t *testing.T) {
	m := NewManager(1, nil)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Do(ctx, PriorityNormal, func() {
			runs.Add(1)
			close(started)
			<-release
		})
	}()

	<-started
	cancel()
	select {
	case err := <-errCh:
		t.Fatalf("Do returned %v while the work was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-errCh, "started work counts as ran, not cancelled")
	assert.Equal(t, int64(1), runs.Load())
}

func TestManager_CloseCancelsQueuedWork(t *testing.T) {
	m := NewManager(1, nil)

	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	blockerErr := make(chan error, 1)
	go func() {
		blockerErr <- m.Do(context.Background(), PriorityNormal, func() {
			close(blockerStarted)
			<-release
		})
	}()
	<-blockerStarted

	ran := atomic.Bool{}
	queuedErr := make(chan error, 1)
	go func() {
		queuedErr <- m.Do(context.Background(), PriorityNormal, func() { ran.Store(true) })
	}()
	time.Sleep(20 * time.Millisecond) // let it enqueue behind the blocker

	m.Close()
	assert.ErrorIs(t, <-queuedErr, context.Canceled, "queued work released by Close never ran")
	assert.False(t, ran.Load())

	close(release)
	require.NoError(t, <-blockerErr, "in-flight work still completes")
}

func TestManager_DoAfterClose(t *testing.T) {
	m := NewManager(1, nil)
	m.Close()
	ran := false
	err := m.Do(context.Background(), PriorityNormal, func() { ran = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager(2, nil)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), PriorityNormal, func() {
				time.Sleep(5 * time.Millisecond)
			})
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Zero(t, snap.InFlight)
	assert.Zero(t, snap.Queued)
	assert.GreaterOrEqual(t, snap.PeakConcurrency, 1)
	assert.LessOrEqual(t, snap.PeakConcurrency, 2)
	assert.Greater(t, snap.AvgLatency, time.Duration(0))
	assert.Greater(t, snap.Throughput, 0.0)
}
