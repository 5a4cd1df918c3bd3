// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the YAML configuration surface for the hammertime
// binary. Flags override file values; the file overrides the defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use "500ms"/"30s" forms.
type Duration time.Duration

// UnmarshalYAML parses a duration from either a Go duration string or a
// bare integer (nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration %v", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration tree for one hammering run.
type Config struct {
	Target      TargetConfig      `yaml:"target"`
	Engine      EngineConfig      `yaml:"engine"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Timeout     TimeoutConfig     `yaml:"timeout"`
	DeadHost    DeadHostConfig    `yaml:"dead_host"`
	Rules       RulesConfig       `yaml:"rules"`
	MetricsAddr string            `yaml:"metrics_addr"`
	KB          KBConfig          `yaml:"kb"`
}

// TargetConfig names what to hammer and how to reach it.
type TargetConfig struct {
	Proxy   string            `yaml:"proxy,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// EngineConfig tunes the retry engine and scheduler.
type EngineConfig struct {
	RetryCount       int      `yaml:"retry_count"`
	RetryDelay       Duration `yaml:"retry_delay"`
	SchedulerLimit   int      `yaml:"scheduler_limit"`
	PriorityLaneSize int      `yaml:"priority_lane_size"`
}

// ConcurrencyConfig tunes the slow-start scaling policy. Static > 0
// disables slow-start entirely and pins the concurrency.
type ConcurrencyConfig struct {
	Static     int     `yaml:"static,omitempty"`
	Min        int     `yaml:"min"`
	Max        int     `yaml:"max"`
	Initial    int     `yaml:"initial"`
	CohortSize int     `yaml:"cohort_size"`
	Tolerance  float64 `yaml:"tolerance"`
}

// TimeoutConfig tunes the dynamic-timeout rule.
type TimeoutConfig struct {
	Min        Duration `yaml:"min"`
	Max        Duration `yaml:"max"`
	SampleSize int      `yaml:"sample_size"`
}

// DeadHostConfig tunes dead-host detection.
type DeadHostConfig struct {
	MinRequests     int     `yaml:"min_requests"`
	MaxTimeoutRatio float64 `yaml:"max_timeout_ratio"`
}

// RulesConfig enables and parameterizes the optional filter rules.
type RulesConfig struct {
	Allow        []string `yaml:"allow,omitempty"`
	Deny         []string `yaml:"deny,omitempty"`
	RejectCodes  []int    `yaml:"reject_codes,omitempty"`
	WAFMarkers   []string `yaml:"waf_markers,omitempty"`
	MaxRedirects int      `yaml:"max_redirects"`
	BodyLimit    int      `yaml:"body_limit"`
	Soft404Cache int      `yaml:"soft404_cache"`
}

// KBConfig selects the knowledge-base backend. An empty RedisAddr means
// the in-process KB.
type KBConfig struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// Default returns the configuration a run starts from before the YAML file
// and flags are applied.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			RetryCount:       3,
			RetryDelay:       Duration(500 * time.Millisecond),
			SchedulerLimit:   1024,
			PriorityLaneSize: 10,
		},
		Concurrency: ConcurrencyConfig{
			Min:        1,
			Max:        200,
			Initial:    5,
			CohortSize: 25,
			Tolerance:  0.15,
		},
		Timeout: TimeoutConfig{
			Min:        Duration(200 * time.Millisecond),
			Max:        Duration(10 * time.Second),
			SampleSize: 100,
		},
		DeadHost: DeadHostConfig{
			MinRequests:     5,
			MaxTimeoutRatio: 0.9,
		},
		Rules: RulesConfig{
			MaxRedirects: 10,
			BodyLimit:    1024 * 1024,
			Soft404Cache: 4096,
		},
		KB: KBConfig{Prefix: "hammertime"},
	}
}

// Load reads path as a YAML overlay on top of Default. An empty path
// returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
