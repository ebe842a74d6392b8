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
// Package learning records routing outcomes and recommends backends by
// task fingerprint. The engine is a passive store: the router consults it
// before routing and notifies it after the outcome is known.
package learning

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/relay/pkg/routing"
)

// Trend classifies a backend's recent success direction.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Config tunes the learning engine.
type Config struct {
	// Alpha is the EMA smoothing factor for confidence updates.
	Alpha float64 `mapstructure:"alpha"`
	// MinSamples is the pattern sample floor before recommendations.
	MinSamples int `mapstructure:"min_samples"`
	// MinBackendCalls is the per-backend call floor inside a pattern.
	MinBackendCalls int `mapstructure:"min_backend_calls"`
	// ConfidenceThreshold is the minimum combined score to recommend.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// HistoryCap bounds the rolling outcome history.
	HistoryCap int `mapstructure:"history_cap"`
	// HistoryEvict is the batch size dropped when the cap is exceeded.
	HistoryEvict int `mapstructure:"history_evict"`
	// SaveEvery triggers a background save at each Nth outcome.
	SaveEvery int `mapstructure:"save_every"`
	// StatePath is the JSON state file location.
	StatePath string `mapstructure:"state_path"`
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:               0.2,
		MinSamples:          5,
		MinBackendCalls:     3,
		ConfidenceThreshold: 0.6,
		HistoryCap:          1000,
		HistoryEvict:        500,
		SaveEvery:           10,
		StatePath:           "data/learning/learning-state.json",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = d.Alpha
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.MinBackendCalls <= 0 {
		c.MinBackendCalls = d.MinBackendCalls
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = d.HistoryCap
	}
	if c.HistoryEvict <= 0 || c.HistoryEvict > c.HistoryCap {
		c.HistoryEvict = d.HistoryEvict
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = d.SaveEvery
	}
	if c.StatePath == "" {
		c.StatePath = d.StatePath
	}
	return c
}

// BackendMetrics aggregates one backend's observed behavior.
type BackendMetrics struct {
	Confidence      float64        `json:"confidence"`
	TotalCalls      int            `json:"total_calls"`
	SuccessfulCalls int            `json:"successful_calls"`
	ByComplexity    map[string]int `json:"by_complexity"`
	ByTaskType      map[string]int `json:"by_task_type"`
	Trend           Trend          `json:"trend"`
}

func newBackendMetrics() *BackendMetrics {
	return &BackendMetrics{
		Confidence:   0.5, // neutral prior
		ByComplexity: make(map[string]int),
		ByTaskType:   make(map[string]int),
		Trend:        TrendStable,
	}
}

// patternStats accumulates per-backend results for one
// "{complexity}:{task_type}" bucket.
type patternStats struct {
	PerBackend   map[string]*backendPattern `json:"per_backend"`
	TotalSamples int                        `json:"total_samples"`
}

type backendPattern struct {
	Calls      int `json:"calls"`
	SuccessSum int `json:"success_sum"`
}

type historyEntry struct {
	Backend    string             `json:"backend"`
	Complexity routing.Complexity `json:"complexity"`
	TaskType   routing.TaskType   `json:"task_type"`
	Success    bool               `json:"success"`
	LatencyMs  int64              `json:"latency_ms"`
	Source     routing.Source     `json:"source"`
	At         time.Time          `json:"at"`
}

// Engine is the process-wide learning store. All methods are safe for
// concurrent use; a single mutex serializes recordings and persistence
// snapshots so every outcome is recorded exactly once.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	logger    *zap.Logger
	metrics   map[string]*BackendMetrics
	patterns  map[string]*patternStats
	history   []historyEntry
	sinceSave int
}

// NewEngine builds an engine, loading persisted state from disk if present.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  make(map[string]*BackendMetrics),
		patterns: make(map[string]*patternStats),
	}
	if err := e.load(); err != nil {
		logger.Warn("learning state not loaded, starting fresh", zap.Error(err))
	}
	return e
}

func patternKey(c routing.Complexity, t routing.TaskType) string {
	return fmt.Sprintf("%s:%s", c, t)
}

// Record updates metrics, the pattern bucket, and the rolling history for
// one outcome, then schedules a background save at each Nth recording.
// Record never fails; persistence errors are logged and ignored.
func (e *Engine) Record(o routing.Outcome) {
	e.mu.Lock()

	m, ok := e.metrics[o.Backend]
	if !ok {
		m = newBackendMetrics()
		e.metrics[o.Backend] = m
	}

	observed := 0.0
	if o.Success {
		observed = 1.0
	}
	m.Confidence = clamp01(e.cfg.Alpha*observed + (1-e.cfg.Alpha)*m.Confidence)
	m.TotalCalls++
	if o.Success {
		m.SuccessfulCalls++
	}
	m.ByComplexity[string(o.Complexity)]++
	m.ByTaskType[string(o.TaskType)]++

	key := patternKey(o.Complexity, o.TaskType)
	p, ok := e.patterns[key]
	if !ok {
		p = &patternStats{PerBackend: make(map[string]*backendPattern)}
		e.patterns[key] = p
	}
	bp, ok := p.PerBackend[o.Backend]
	if !ok {
		bp = &backendPattern{}
		p.PerBackend[o.Backend] = bp
	}
	bp.Calls++
	if o.Success {
		bp.SuccessSum++
	}
	p.TotalSamples++

	e.history = append(e.history, historyEntry{
		Backend:    o.Backend,
		Complexity: o.Complexity,
		TaskType:   o.TaskType,
		Success:    o.Success,
		LatencyMs:  o.LatencyMs,
		Source:     o.Source,
		At:         time.Now(),
	})
	if len(e.history) > e.cfg.HistoryCap {
		e.history = append([]historyEntry(nil), e.history[e.cfg.HistoryEvict:]...)
	}

	m.Trend = e.trendLocked(o.Backend)

	e.sinceSave++
	shouldSave := e.sinceSave >= e.cfg.SaveEvery
	if shouldSave {
		e.sinceSave = 0
	}
	var snapshot []byte
	if shouldSave {
		snapshot = e.snapshotLocked()
	}
	e.mu.Unlock()

	if snapshot != nil {
		go e.writeSnapshot(snapshot)
	}
}

// Recommend returns the best backend for a pattern, if the pattern has
// enough samples and the best score clears the confidence threshold.
// Backends with fewer than MinBackendCalls calls in the pattern are never
// returned.
func (e *Engine) Recommend(c routing.Complexity, t routing.TaskType) (routing.Recommendation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[patternKey(c, t)]
	if !ok || p.TotalSamples < e.cfg.MinSamples {
		return routing.Recommendation{}, false
	}

	best := ""
	bestScore := 0.0
	for name, bp := range p.PerBackend {
		if bp.Calls < e.cfg.MinBackendCalls {
			continue
		}
		successRate := float64(bp.SuccessSum) / float64(bp.Calls)
		confidence := 0.5
		if m, ok := e.metrics[name]; ok {
			confidence = m.Confidence
		}
		score := clamp01(0.7*successRate + 0.3*confidence)
		if score > bestScore {
			best = name
			bestScore = score
		}
	}

	if best == "" || bestScore < e.cfg.ConfidenceThreshold {
		return routing.Recommendation{}, false
	}
	return routing.Recommendation{
		Backend:    best,
		Confidence: bestScore,
		Reason:     fmt.Sprintf("pattern %s score %.2f over %d samples", patternKey(c, t), bestScore, p.TotalSamples),
	}, true
}

// Metrics returns a copy of one backend's metrics.
func (e *Engine) Metrics(backend string) (BackendMetrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.metrics[backend]
	if !ok {
		return BackendMetrics{}, false
	}
	out := *m
	out.ByComplexity = copyCounts(m.ByComplexity)
	out.ByTaskType = copyCounts(m.ByTaskType)
	return out, true
}

// Reset discards all learned state and removes the state file.
func (e *Engine) Reset() error {
	e.mu.Lock()
	e.metrics = make(map[string]*BackendMetrics)
	e.patterns = make(map[string]*patternStats)
	e.history = nil
	e.sinceSave = 0
	e.mu.Unlock()
	return e.removeState()
}

// trendLocked compares the backend's recent window against the previous
// one in the rolling history. Caller holds the mutex.
func (e *Engine) trendLocked(backend string) Trend {
	const window = 10
	var outcomes []bool
	for i := len(e.history) - 1; i >= 0 && len(outcomes) < 2*window; i-- {
		if e.history[i].Backend == backend {
			outcomes = append(outcomes, e.history[i].Success)
		}
	}
	if len(outcomes) < 2*window {
		return TrendStable
	}
	recent := successRate(outcomes[:window])
	older := successRate(outcomes[window:])
	switch {
	case recent > older+0.1:
		return TrendImproving
	case recent < older-0.1:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func successRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, ok := range outcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
