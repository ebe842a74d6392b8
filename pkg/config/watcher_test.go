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

package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validConfig)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, w.Start(context.Background()))

	updated := strings.Replace(validConfig, `"council_topics": {"coding": ["local", "gemini"]}`,
		`"council_topics": {"coding": ["gemini"]}`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"gemini"}, cfg.CouncilTopics["coding"])
	case <-time.After(5 * time.Second):
		t.Fatal("config reload never fired")
	}
}

func TestWatcher_InvalidFileSkipped(t *testing.T) {
	path := writeConfig(t, validConfig)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	require.NoError(t, w.Start(context.Background()))

	// A half-written file must not reach the callback; the next valid write
	// does.
	require.NoError(t, os.WriteFile(path, []byte(`{"backends": [`), 0o644))
	time.Sleep(reloadDebounce + 200*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o644))

	select {
	case cfg := <-reloaded:
		require.NoError(t, cfg.Validate())
	case <-time.After(5 * time.Second):
		t.Fatal("valid rewrite never reloaded")
	}
	assert.Empty(t, reloaded, "the broken intermediate state never fired")
}

func TestWatcher_StopIdempotent(t *testing.T) {
	path := writeConfig(t, validConfig)
	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
