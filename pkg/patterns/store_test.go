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

package patterns

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "patterns.json")
	return NewStore(cfg, nil)
}

// seedStore adds three records with disjoint vocabularies so IDF weights
// stay positive and searches discriminate cleanly.
func seedStore(t *testing.T, s *Store) (id1, id2, id3 string) {
	t.Helper()
	id1 = s.Add("select goroutine channel deadlock detection", "concurrency diagnosis", "code", []string{"go", "concurrency"})
	id2 = s.Add("middleware logging request tracing", "http server observability", "code", []string{"go", "http"})
	id3 = s.Add("migration schema rollback procedure", "database versioning", "ops", []string{"sql"})
	return id1, id2, id3
}

func TestStore_AddAndCount(t *testing.T) {
	s := testStore(t)
	assert.Zero(t, s.Count())

	id := s.Add("content words here", "a description", "code", []string{"tag"})
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, s.Count())
}

func TestStore_SearchRanksByOwnVocabulary(t *testing.T) {
	s := testStore(t)
	id1, _, _ := seedStore(t, s)

	matches := s.Search("goroutine channel deadlock", SearchOptions{Limit: 5})
	require.NotEmpty(t, matches)
	assert.Equal(t, id1, matches[0].ID)
	assert.Greater(t, matches[0].Similarity, 0.3)

	// Unrelated query finds nothing above the threshold.
	assert.Empty(t, s.Search("quarterly revenue forecast", SearchOptions{}))
	// Empty query finds nothing.
	assert.Empty(t, s.Search("", SearchOptions{}))
}

func TestStore_SearchFilters(t *testing.T) {
	s := testStore(t)
	_, _, id3 := seedStore(t, s)

	matches := s.Search("migration schema rollback", SearchOptions{Category: "code"})
	assert.Empty(t, matches, "category filter excludes the only vocabulary match")

	matches = s.Search("migration schema rollback", SearchOptions{Category: "ops"})
	require.Len(t, matches, 1)
	assert.Equal(t, id3, matches[0].ID)

	matches = s.Search("migration schema rollback", SearchOptions{Tags: []string{"sql", "nosuch"}})
	require.Len(t, matches, 1, "any-tag match suffices")

	matches = s.Search("migration schema rollback", SearchOptions{Tags: []string{"go"}})
	assert.Empty(t, matches)
}

func TestStore_SearchBumpsAccessStats(t *testing.T) {
	s := testStore(t)
	id1, _, _ := seedStore(t, s)

	before := time.Now()
	matches := s.Search("goroutine channel deadlock", SearchOptions{Limit: 1})
	require.Len(t, matches, 1)

	s.mu.RLock()
	rec := s.records[id1]
	s.mu.RUnlock()
	assert.Equal(t, 1, rec.AccessCount)
	assert.False(t, rec.LastAccessed.Before(before))
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	id1, _, _ := seedStore(t, s)

	assert.True(t, s.Delete(id1))
	assert.False(t, s.Delete(id1))
	assert.Equal(t, 2, s.Count())
	assert.Empty(t, s.Search("goroutine channel deadlock", SearchOptions{}))
}

func TestStore_EvictionPrefersUnaccessed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPatterns = 3
	cfg.StatePath = filepath.Join(t.TempDir(), "patterns.json")
	s := NewStore(cfg, nil)

	id1, id2, _ := seedStore(t, s)

	// Accessing two records gives them nonzero retention value.
	require.NotEmpty(t, s.Search("goroutine channel deadlock", SearchOptions{}))
	require.NotEmpty(t, s.Search("middleware logging tracing", SearchOptions{}))

	s.Add("entirely fresh vocabulary terms", "new pattern", "misc", nil)
	assert.Equal(t, 3, s.Count())

	s.mu.RLock()
	_, ok1 := s.records[id1]
	_, ok2 := s.records[id2]
	s.mu.RUnlock()
	assert.True(t, ok1, "accessed record must survive eviction")
	assert.True(t, ok2, "accessed record must survive eviction")
}

func TestStore_ApplyDecay(t *testing.T) {
	s := testStore(t)
	id1, id2, _ := seedStore(t, s)

	s.mu.Lock()
	s.records[id1].LastAccessed = time.Now().Add(-10 * 24 * time.Hour)
	s.records[id2].LastAccessed = time.Now().Add(-120 * 24 * time.Hour)
	s.mu.Unlock()

	s.ApplyDecay()

	s.mu.RLock()
	rec1, ok1 := s.records[id1]
	_, ok2 := s.records[id2]
	s.mu.RUnlock()

	require.True(t, ok1)
	assert.InDelta(t, math.Pow(0.98, 10), rec1.Relevance, 0.01)
	assert.False(t, ok2, "records idle past max_age_days are removed")
	assert.Equal(t, 2, s.Count())
}

func TestStore_StartDecayLoopAppliesImmediately(t *testing.T) {
	s := testStore(t)
	id1, _, _ := seedStore(t, s)

	s.mu.Lock()
	s.records[id1].LastAccessed = time.Now().Add(-10 * 24 * time.Hour)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartDecayLoop(ctx, time.Hour)

	s.mu.RLock()
	rel := s.records[id1].Relevance
	s.mu.RUnlock()
	assert.InDelta(t, math.Pow(0.98, 10), rel, 0.01, "decay runs before the first tick")
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	cfg := DefaultConfig()
	cfg.StatePath = path

	s := NewStore(cfg, nil)
	id1, _, _ := seedStore(t, s)

	reloaded := NewStore(cfg, nil)
	assert.Equal(t, 3, reloaded.Count())

	matches := reloaded.Search("goroutine channel deadlock", SearchOptions{Limit: 1})
	require.Len(t, matches, 1)
	assert.Equal(t, id1, matches[0].ID)
	assert.Equal(t, "concurrency diagnosis", matches[0].Description)
}

func TestStore_MissingStateFileStartsEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "does", "not", "exist.json")
	s := NewStore(cfg, nil)
	assert.Zero(t, s.Count())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 500, cfg.MaxPatterns)
	assert.Equal(t, 90, cfg.MaxAgeDays)
	assert.InDelta(t, 0.98, cfg.DecayFactor, 1e-9)
	assert.InDelta(t, 0.3, cfg.MinSimilarity, 1e-9)

	// Out-of-range values fall back too.
	cfg = Config{DecayFactor: 1.5}.withDefaults()
	assert.InDelta(t, 0.98, cfg.DecayFactor, 1e-9)
}
