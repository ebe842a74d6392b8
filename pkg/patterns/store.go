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
// Package patterns implements a TF-IDF pattern memory used by workflow
// handlers for prompt augmentation. The store exclusively owns all records;
// callers receive read-only projections.
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the pattern store.
type Config struct {
	// MaxPatterns caps the store; the lowest-value record is evicted past it.
	MaxPatterns int `mapstructure:"max_patterns"`
	// MaxAgeDays removes records not accessed within this many days.
	MaxAgeDays int `mapstructure:"max_age_days"`
	// DecayFactor is the per-idle-day relevance multiplier.
	DecayFactor float64 `mapstructure:"decay_factor"`
	// MinSimilarity is the default search threshold.
	MinSimilarity float64 `mapstructure:"min_similarity"`
	// StatePath is the JSON state file location.
	StatePath string `mapstructure:"state_path"`
}

// DefaultConfig returns the standard store tuning.
func DefaultConfig() Config {
	return Config{
		MaxPatterns:   500,
		MaxAgeDays:    90,
		DecayFactor:   0.98,
		MinSimilarity: 0.3,
		StatePath:     "data/patterns/patterns.json",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = d.DecayFactor
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = d.MinSimilarity
	}
	if c.StatePath == "" {
		c.StatePath = d.StatePath
	}
	return c
}

// Record is the store-owned pattern state.
type Record struct {
	ID           string             `json:"id"`
	Content      string             `json:"content"`
	Description  string             `json:"description"`
	Category     string             `json:"category"`
	Tags         []string           `json:"tags"`
	TFVector     map[string]float64 `json:"tf_vector"`
	CreatedAt    time.Time          `json:"created_at"`
	LastAccessed time.Time          `json:"last_accessed"`
	AccessCount  int                `json:"access_count"`
	Relevance    float64            `json:"relevance"`
}

// Match is the read-only search projection handed to callers.
type Match struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Similarity  float64  `json:"similarity"`
}

// SearchOptions filters and bounds a search.
type SearchOptions struct {
	Limit         int
	Category      string
	Tags          []string
	MinSimilarity float64 // 0 means the configured default
}

// Store is the in-process TF-IDF pattern memory. Mutations are exclusive;
// reads may run concurrently between writes.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger

	records map[string]*Record
	docFreq map[string]int

	// idf is rebuilt lazily; any mutation invalidates it.
	idf      map[string]float64
	maxIDF   float64
	idfValid bool
}

// NewStore builds a store, loading persisted patterns if present.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		records: make(map[string]*Record),
		docFreq: make(map[string]int),
	}
	if err := s.load(); err != nil {
		logger.Warn("pattern store not loaded, starting empty", zap.Error(err))
	}
	return s
}

// Add tokenizes description+content, indexes the record, and evicts the
// lowest-value record if the store is over capacity.
func (s *Store) Add(content, description, category string, tags []string) string {
	now := time.Now()
	rec := &Record{
		ID:           uuid.NewString(),
		Content:      content,
		Description:  description,
		Category:     category,
		Tags:         append([]string(nil), tags...),
		TFVector:     termFrequency(tokenize(description + " " + content)),
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Relevance:    1.0,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	for term := range rec.TFVector {
		s.docFreq[term]++
	}
	s.idfValid = false
	if len(s.records) > s.cfg.MaxPatterns {
		s.evictLocked()
	}
	s.mu.Unlock()

	s.persist()
	return rec.ID
}

// Delete removes a record by ID.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		s.removeLocked(rec)
	}
	s.mu.Unlock()
	if ok {
		s.persist()
	}
	return ok
}

// Search ranks candidates by cosine(query, pattern) x relevance and returns
// the top matches above the similarity threshold. Matching records have
// their access stats bumped.
func (s *Store) Search(query string, opts SearchOptions) []Match {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = s.cfg.MinSimilarity
	}

	queryTF := termFrequency(tokenize(query))
	if len(queryTF) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildIDFLocked()

	queryVec := weight(queryTF, s.idf, s.maxIDF)
	var matches []Match
	var matched []*Record
	for _, rec := range s.records {
		if opts.Category != "" && rec.Category != opts.Category {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(rec.Tags, opts.Tags) {
			continue
		}
		sim := cosine(queryVec, weight(rec.TFVector, s.idf, s.maxIDF)) * rec.Relevance
		if sim < minSim {
			continue
		}
		matches = append(matches, Match{
			ID:          rec.ID,
			Content:     rec.Content,
			Description: rec.Description,
			Category:    rec.Category,
			Tags:        append([]string(nil), rec.Tags...),
			Similarity:  sim,
		})
		matched = append(matched, rec)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	now := time.Now()
	returned := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		returned[m.ID] = struct{}{}
	}
	for _, rec := range matched {
		if _, ok := returned[rec.ID]; ok {
			rec.LastAccessed = now
			rec.AccessCount++
		}
	}
	return matches
}

// ApplyDecay multiplies each record's relevance by decay_factor per day
// since last access and removes records older than max_age_days.
func (s *Store) ApplyDecay() {
	now := time.Now()
	maxAge := time.Duration(s.cfg.MaxAgeDays) * 24 * time.Hour

	s.mu.Lock()
	var expired []*Record
	for _, rec := range s.records {
		idle := now.Sub(rec.LastAccessed)
		if idle > maxAge {
			expired = append(expired, rec)
			continue
		}
		ageDays := idle.Hours() / 24
		rec.Relevance = math.Pow(s.cfg.DecayFactor, ageDays)
	}
	for _, rec := range expired {
		s.removeLocked(rec)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("expired patterns removed", zap.Int("count", len(expired)))
	}
	s.persist()
}

// StartDecayLoop applies decay once immediately, then again on every tick
// until ctx is cancelled. interval <= 0 defaults to daily.
func (s *Store) StartDecayLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.ApplyDecay()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ApplyDecay()
			}
		}
	}()
}

// Count returns the number of stored patterns.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// evictLocked drops the record with the lowest relevance x log(access+1).
// Records that were never accessed all score zero, so relevance breaks ties.
func (s *Store) evictLocked() {
	var victim *Record
	lowest := math.Inf(1)
	lowestRel := math.Inf(1)
	for _, rec := range s.records {
		value := rec.Relevance * math.Log(float64(rec.AccessCount)+1)
		if value < lowest || (value == lowest && rec.Relevance < lowestRel) {
			lowest = value
			lowestRel = rec.Relevance
			victim = rec
		}
	}
	if victim != nil {
		s.removeLocked(victim)
		s.logger.Debug("pattern evicted", zap.String("id", victim.ID))
	}
}

func (s *Store) removeLocked(rec *Record) {
	delete(s.records, rec.ID)
	for term := range rec.TFVector {
		if s.docFreq[term] <= 1 {
			delete(s.docFreq, term)
		} else {
			s.docFreq[term]--
		}
	}
	s.idfValid = false
}

// buildIDFLocked rebuilds the IDF cache if a mutation invalidated it.
func (s *Store) buildIDFLocked() {
	if s.idfValid {
		return
	}
	n := float64(len(s.records))
	s.idf = make(map[string]float64, len(s.docFreq))
	s.maxIDF = 0
	for term, df := range s.docFreq {
		v := math.Log((n + 1) / (float64(df) + 1))
		s.idf[term] = v
		if v > s.maxIDF {
			s.maxIDF = v
		}
	}
	if s.maxIDF == 0 {
		s.maxIDF = 1
	}
	s.idfValid = true
}

func hasAnyTag(recordTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range recordTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

// persistedStore is the on-disk JSON shape: patterns as [id, record] pairs.
type persistedStore struct {
	Patterns [][2]json.RawMessage `json:"patterns"`
	DocFreq  map[string]int       `json:"document_frequency"`
	SavedAt  time.Time            `json:"saved_at"`
}

// persist writes the store with temp-file-plus-rename. Failures are never
// fatal to callers; they are logged and ignored.
func (s *Store) persist() {
	s.mu.RLock()
	state := persistedStore{
		DocFreq: s.docFreq,
		SavedAt: time.Now().UTC(),
	}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		idJSON, err := json.Marshal(id)
		if err != nil {
			continue
		}
		recJSON, err := json.Marshal(s.records[id])
		if err != nil {
			continue
		}
		state.Patterns = append(state.Patterns, [2]json.RawMessage{idJSON, recJSON})
	}
	data, err := json.MarshalIndent(state, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.logger.Warn("marshal pattern store", zap.Error(err))
		return
	}

	if err := writeAtomic(s.cfg.StatePath, data); err != nil {
		s.logger.Warn("pattern store save failed", zap.Error(err))
	}
}

// load reads persisted patterns. A missing file is not an error.
func (s *Store) load() error {
	data, err := os.ReadFile(s.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pattern store: %w", err)
	}

	var state persistedStore
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse pattern store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range state.Patterns {
		var id string
		var rec Record
		if err := json.Unmarshal(pair[0], &id); err != nil {
			continue
		}
		if err := json.Unmarshal(pair[1], &rec); err != nil {
			continue
		}
		s.records[id] = &rec
	}
	if state.DocFreq != nil {
		s.docFreq = state.DocFreq
	}
	s.idfValid = false
	s.logger.Info("pattern store loaded", zap.Int("patterns", len(s.records)))
	return nil
}

func writeAtomic(path string, data []byte) error {
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
