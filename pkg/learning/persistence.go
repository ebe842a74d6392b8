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
package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// persistedState is the on-disk JSON shape.
type persistedState struct {
	BackendMetrics map[string]*BackendMetrics `json:"backend_metrics"`
	TaskPatterns   map[string]*patternStats   `json:"task_patterns"`
	RoutingHistory []historyEntry             `json:"routing_history_last_n"`
	SavedAt        time.Time                  `json:"saved_at"`
}

// snapshotLocked marshals the current state. Caller holds the mutex.
func (e *Engine) snapshotLocked() []byte {
	state := persistedState{
		BackendMetrics: e.metrics,
		TaskPatterns:   e.patterns,
		RoutingHistory: e.history,
		SavedAt:        time.Now().UTC(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		e.logger.Error("marshal learning state", zap.Error(err))
		return nil
	}
	return data
}

// writeSnapshot persists a marshaled snapshot with temp-file-plus-rename.
// Failures are logged and ignored: learning persistence is best-effort.
func (e *Engine) writeSnapshot(data []byte) {
	if err := atomicWrite(e.cfg.StatePath, data); err != nil {
		e.logger.Warn("learning state save failed", zap.Error(err))
		return
	}
	e.logger.Debug("learning state saved", zap.String("path", e.cfg.StatePath))
}

// Save persists the current state synchronously.
func (e *Engine) Save() error {
	e.mu.Lock()
	data := e.snapshotLocked()
	e.mu.Unlock()
	if data == nil {
		return fmt.Errorf("snapshot failed")
	}
	return atomicWrite(e.cfg.StatePath, data)
}

// load reads persisted state. A missing file is not an error.
func (e *Engine) load() error {
	data, err := os.ReadFile(e.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read learning state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse learning state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state.BackendMetrics != nil {
		e.metrics = state.BackendMetrics
	}
	if state.TaskPatterns != nil {
		e.patterns = state.TaskPatterns
	}
	e.history = state.RoutingHistory
	e.logger.Info("learning state loaded",
		zap.Int("backends", len(e.metrics)),
		zap.Int("patterns", len(e.patterns)),
		zap.Int("history", len(e.history)),
	)
	return nil
}

func (e *Engine) removeState() error {
	if err := os.Remove(e.cfg.StatePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove learning state: %w", err)
	}
	return nil
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
