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
// Package scheduler provides a bounded-concurrency request manager with a
// two-level queue: priority work (health probes) drains before normal
// requests. The manager only gates when a submitted unit of work begins;
// work semantics and cancellation belong to the caller.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Priority attributes a submission at enqueue time. There is no dynamic
// priority adjustment.
type Priority int

const (
	// PriorityNormal is the FIFO lane for regular backend requests.
	PriorityNormal Priority = iota
	// PriorityHigh is the probe lane, drained before the FIFO lane.
	PriorityHigh
)

// DefaultMaxConcurrent is the process-wide concurrency bound. Handlers
// impose tighter per-call caps on top of it.
const DefaultMaxConcurrent = 250

// throughputWindow is the rolling window for the throughput metric.
const throughputWindow = 10 * time.Second

// Metrics is a point-in-time view of manager activity.
type Metrics struct {
	InFlight        int           `json:"in_flight"`
	Queued          int           `json:"queued"`
	PeakConcurrency int           `json:"peak_concurrency"`
	Throughput      float64       `json:"rolling_throughput_per_sec"`
	AvgLatency      time.Duration `json:"avg_latency"`
	AvgQueueWait    time.Duration `json:"avg_queue_wait"`
}

// Task lifecycle. Exactly one of started or cancelled wins via CAS, so a
// submitted fn runs at most once and Do can tell the two apart.
const (
	taskPending int32 = iota
	taskStarted
	taskCancelled
)

type task struct {
	fn         func()
	enqueuedAt time.Time
	state      atomic.Int32
	done       chan struct{}
}

// Manager schedules submitted work under a global concurrency bound.
// A single mutex protects both queues; the dispatcher loop is
// single-threaded.
type Manager struct {
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	cond     *sync.Cond
	priority []*task
	fifo     []*task
	closed   bool

	inFlight       int
	peak           int
	completed      int64
	totalLatency   time.Duration
	totalQueueWait time.Duration
	finishTimes    []time.Time
}

// NewManager builds a manager and starts its dispatcher.
func NewManager(maxConcurrent int, logger *zap.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.dispatch()
	return m
}

// Do submits fn and blocks until it has run to completion or ctx expires
// before it starts. A nil return means fn ran exactly once; an error means
// it never ran and never will. Once the dispatcher has started fn, Do waits
// it out even on cancellation, so a caller can never race a second attempt
// against a still-running first one.
func (m *Manager) Do(ctx context.Context, p Priority, fn func()) error {
	t := &task{
		fn:         fn,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return context.Canceled
	}
	if p == PriorityHigh {
		m.priority = append(m.priority, t)
	} else {
		m.fifo = append(m.fifo, t)
	}
	m.cond.Signal()
	m.mu.Unlock()

	select {
	case <-t.done:
		if t.state.Load() != taskStarted {
			// Released by Close before it could start.
			return context.Canceled
		}
		return nil
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskCancelled) {
			return ctx.Err()
		}
		// Lost the race: the dispatcher already claimed the task.
		<-t.done
		return nil
	}
}

// dispatch is the single-threaded loop that orders and admits work.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		for !m.closed && len(m.priority) == 0 && len(m.fifo) == 0 {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		var t *task
		if len(m.priority) > 0 {
			t = m.priority[0]
			m.priority = m.priority[1:]
		} else {
			t = m.fifo[0]
			m.fifo = m.fifo[1:]
		}
		m.mu.Unlock()

		if t.state.Load() == taskCancelled {
			close(t.done)
			continue
		}

		// The dispatcher blocks here when the bound is reached; queued
		// work keeps its submission order.
		if err := m.sem.Acquire(context.Background(), 1); err != nil {
			close(t.done)
			continue
		}

		// Claim the task. A submitter that gave up while we waited for a
		// slot wins this CAS instead, and the work is dropped.
		if !t.state.CompareAndSwap(taskPending, taskStarted) {
			m.sem.Release(1)
			close(t.done)
			continue
		}

		queueWait := time.Since(t.enqueuedAt)
		m.noteStart(queueWait)

		go func(t *task) {
			defer m.sem.Release(1)
			start := time.Now()
			t.fn()
			m.noteFinish(time.Since(start))
			close(t.done)
		}(t)
	}
}

func (m *Manager) noteStart(queueWait time.Duration) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	m.totalQueueWait += queueWait
	m.mu.Unlock()
}

func (m *Manager) noteFinish(latency time.Duration) {
	now := time.Now()
	m.mu.Lock()
	m.inFlight--
	m.completed++
	m.totalLatency += latency
	m.finishTimes = append(m.finishTimes, now)
	m.trimFinishTimesLocked(now)
	m.mu.Unlock()
}

func (m *Manager) trimFinishTimesLocked(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(m.finishTimes) && m.finishTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.finishTimes = append([]time.Time(nil), m.finishTimes[i:]...)
	}
}

// Snapshot returns current metrics.
func (m *Manager) Snapshot() Metrics {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimFinishTimesLocked(now)

	out := Metrics{
		InFlight:        m.inFlight,
		Queued:          len(m.priority) + len(m.fifo),
		PeakConcurrency: m.peak,
		Throughput:      float64(len(m.finishTimes)) / throughputWindow.Seconds(),
	}
	if m.completed > 0 {
		out.AvgLatency = m.totalLatency / time.Duration(m.completed)
		out.AvgQueueWait = m.totalQueueWait / time.Duration(m.completed)
	}
	return out
}

// Close stops the dispatcher. Queued tasks that have not started are
// cancelled and released; their Do calls return an error.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pending := append(m.priority, m.fifo...)
	m.priority = nil
	m.fifo = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	for _, t := range pending {
		t.state.CompareAndSwap(taskPending, taskCancelled)
		close(t.done)
	}
}
