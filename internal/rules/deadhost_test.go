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

package rules

import (
	"context"
	"errors"
	"testing"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

func entryFor(url string) *engine.Entry {
	return engine.NewEntry(engine.NewRequest(url))
}

func TestDeadHostDetection(t *testing.T) {
	ctx := context.Background()

	t.Run("AllTimeoutsMarksDead", func(t *testing.T) {
		d := NewDeadHostDetection(5, 0.9)

		// Five straight timeouts: every known request timed out and the
		// minimum sample count is reached.
		for i := 0; i < 5; i++ {
			if err := d.BeforeRequest(ctx, entryFor("http://slow.test/a")); err != nil {
				t.Fatalf("request %d rejected early: %v", i, err)
			}
			d.OnTimeout(ctx, entryFor("http://slow.test/a"))
		}

		err := d.BeforeRequest(ctx, entryFor("http://slow.test/b"))
		var offline *hterrors.OfflineHostException
		if !errors.As(err, &offline) {
			t.Fatalf("BeforeRequest after threshold = %v, want OfflineHostException", err)
		}
		if offline.Host != "slow.test" {
			t.Errorf("offline host = %q, want slow.test", offline.Host)
		}
	})

	t.Run("SuccessResetsTheWindow", func(t *testing.T) {
		d := NewDeadHostDetection(5, 0.9)

		// Four timeouts, one short of the minimum sample count, then a
		// success: both counters go back to zero.
		for i := 0; i < 4; i++ {
			d.OnTimeout(ctx, entryFor("http://ok.test/x"))
		}
		d.OnRequestSuccessful(ctx, entryFor("http://ok.test/x"))

		// Four more timeouts would have crossed the threshold had the
		// earlier ones still counted.
		for i := 0; i < 4; i++ {
			d.OnTimeout(ctx, entryFor("http://ok.test/x"))
		}

		if err := d.BeforeRequest(ctx, entryFor("http://ok.test/y")); err != nil {
			t.Errorf("host rejected on stale pre-recovery timeouts: %v", err)
		}
	})

	t.Run("HostsIndependent", func(t *testing.T) {
		d := NewDeadHostDetection(2, 0.9)
		for i := 0; i < 3; i++ {
			d.OnTimeout(ctx, entryFor("http://dead.test/"))
		}

		if err := d.BeforeRequest(ctx, entryFor("http://dead.test/")); err == nil {
			t.Error("dead host allowed through")
		}
		if err := d.BeforeRequest(ctx, entryFor("http://alive.test/")); err != nil {
			t.Errorf("unrelated host rejected: %v", err)
		}
	})

	t.Run("UnreachableKillsImmediately", func(t *testing.T) {
		d := NewDeadHostDetection(100, 0.9)
		d.OnHostUnreachable(ctx, entryFor("http://gone.test/"))
		if err := d.BeforeRequest(ctx, entryFor("http://gone.test/")); err == nil {
			t.Error("unreachable host allowed through despite connection-level failure")
		}
	})
}
