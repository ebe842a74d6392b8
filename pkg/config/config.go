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

// Package config loads the backends.json configuration: backend
// descriptors, breaker tuning, routing rules, learning and pattern-store
// settings, council topics, and dual-iterate role bindings. Environment
// variables override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/learning"
	"github.com/teradata-labs/relay/pkg/patterns"
	"github.com/teradata-labs/relay/pkg/routing"
	"github.com/teradata-labs/relay/pkg/workflow"
)

// envPrefix namespaces every environment override.
const envPrefix = "RELAY"

// Config is the full startup configuration.
type Config struct {
	Backends      []backend.Descriptor       `mapstructure:"backends"`
	Breaker       backend.BreakerConfig      `mapstructure:"breaker"`
	Rules         routing.RulesConfig        `mapstructure:"rules"`
	Learning      learning.Config            `mapstructure:"learning"`
	Patterns      patterns.Config            `mapstructure:"patterns"`
	DualIterate   workflow.DualIterateConfig `mapstructure:"dual_iterate"`
	CouncilTopics map[string][]string        `mapstructure:"council_topics"`
	MaxConcurrent int                        `mapstructure:"max_concurrent"`
	DataDir       string                     `mapstructure:"data_dir"`
}

// Load reads and validates the configuration file (JSON), applying
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_concurrent", 250)
	v.SetDefault("data_dir", "data")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDataDir(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the registry cannot start with.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: no backends defined")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, d := range c.Backends {
		if d.Name == "" {
			return fmt.Errorf("config: backend %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate backend %q", d.Name)
		}
		seen[d.Name] = true
		switch d.Kind {
		case backend.KindLocal, backend.KindOpenAICompatible, backend.KindGemini,
			backend.KindNVIDIA, backend.KindGroq, backend.KindAnthropic:
		default:
			return fmt.Errorf("config: backend %q has unknown kind %q", d.Name, d.Kind)
		}
	}
	for topic, members := range c.CouncilTopics {
		for _, m := range members {
			if !seen[m] {
				return fmt.Errorf("config: council topic %q references unknown backend %q", topic, m)
			}
		}
	}
	return nil
}

// applyEnvOverrides layers environment variables over the file:
// RELAY_COUNCIL_<TOPIC> as a comma-separated backend list, and
// RELAY_CODER_BACKENDS / RELAY_REVIEWER_BACKENDS for dual-iterate roles.
func applyEnvOverrides(cfg *Config) {
	if cfg.CouncilTopics == nil {
		cfg.CouncilTopics = make(map[string][]string)
	}
	for _, topic := range []string{"coding", "reasoning", "architecture", "security", "performance", "general", "creative"} {
		key := envPrefix + "_COUNCIL_" + strings.ToUpper(topic)
		if val := os.Getenv(key); val != "" {
			cfg.CouncilTopics[topic] = splitList(val)
		}
	}
	if val := os.Getenv(envPrefix + "_CODER_BACKENDS"); val != "" {
		cfg.DualIterate.CoderBackends = splitList(val)
	}
	if val := os.Getenv(envPrefix + "_REVIEWER_BACKENDS"); val != "" {
		cfg.DualIterate.ReviewerBackends = splitList(val)
	}
}

// applyDataDir roots the persisted-state paths under data_dir when they
// were not set explicitly.
func applyDataDir(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Learning.StatePath == "" {
		cfg.Learning.StatePath = filepath.Join(cfg.DataDir, "learning", "learning-state.json")
	}
	if cfg.Patterns.StatePath == "" {
		cfg.Patterns.StatePath = filepath.Join(cfg.DataDir, "patterns", "patterns.json")
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
