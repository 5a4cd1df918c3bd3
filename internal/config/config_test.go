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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("EmptyPathReturnsDefaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		def := Default()
		if cfg.Engine.RetryCount != def.Engine.RetryCount || cfg.Concurrency.Max != def.Concurrency.Max {
			t.Error("empty path did not return the defaults")
		}
	})

	t.Run("OverlayKeepsUnsetDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ht.yaml")
		doc := `
engine:
  retry_count: 7
timeout:
  max: 30s
rules:
  reject_codes: [404, 502]
`
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Engine.RetryCount != 7 {
			t.Errorf("RetryCount = %d, want 7 from the file", cfg.Engine.RetryCount)
		}
		if cfg.Timeout.Max.Std() != 30*time.Second {
			t.Errorf("Timeout.Max = %v, want 30s", cfg.Timeout.Max.Std())
		}
		if len(cfg.Rules.RejectCodes) != 2 || cfg.Rules.RejectCodes[0] != 404 {
			t.Errorf("RejectCodes = %v, want [404 502]", cfg.Rules.RejectCodes)
		}
		// Anything the file doesn't mention stays at its default.
		if cfg.Concurrency.CohortSize != Default().Concurrency.CohortSize {
			t.Error("unset field lost its default")
		}
	})

	t.Run("MissingFileErrors", func(t *testing.T) {
		if _, err := Load("/does/not/exist.yaml"); err == nil {
			t.Error("Load on a missing file succeeded")
		}
	})

	t.Run("MalformedYAMLErrors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("engine: [not a map"), 0o644)
		if _, err := Load(path); err == nil {
			t.Error("Load on malformed YAML succeeded")
		}
	})
}
