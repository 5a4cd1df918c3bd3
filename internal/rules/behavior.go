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
	"fmt"
	"sync"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
	"hammertime/internal/kb"
	"hammertime/internal/signature"
	"hammertime/internal/simhash"
)

// behaviorState is the shared model DetectBehaviorChange publishes to the
// KB: the simhash this origin's error pages are expected to look like, and
// how many consecutive responses in a row have disagreed with it.
type behaviorState struct {
	mu             sync.Mutex
	baseline       uint64
	hasBaseline    bool
	mismatchStreak int
}

// defaultBehaviorSafeCodes are status codes DetectBehaviorChange ignores by
// default: ordinary 401/403/404 responses are expected to vary in content
// (a real "not found" page differs per path) and aren't evidence of a
// behavior change on their own.
func defaultBehaviorSafeCodes() []int { return []int{401, 403, 404} }

// DetectBehaviorChange watches how a remote host's *error* responses look
// over time and flags a sudden, sustained shift as a likely sign the host
// started handling this client differently mid-run: a WAF switching on, a
// rate limiter engaging, a maintenance page replacing the normal error
// page. It must be registered after DetectSoft404 in the AfterResponse
// event so a soft-404's content signature doesn't also get folded into the
// error-behavior baseline.
type DetectBehaviorChange struct {
	safeCodes         map[int]struct{}
	state             *behaviorState
	distanceThreshold int
	streakThreshold   int
}

// NewDetectBehaviorChange builds a DetectBehaviorChange treating a simhash
// Hamming distance of at least distanceThreshold as a mismatch (defaulting
// to signature.DistanceThreshold), and requiring streakThreshold consecutive
// mismatches (default 3) before concluding behavior actually changed rather
// than one response being a fluke. safeCodes overrides
// defaultBehaviorSafeCodes when non-empty.
func NewDetectBehaviorChange(distanceThreshold, streakThreshold int, safeCodes ...int) *DetectBehaviorChange {
	if distanceThreshold <= 0 {
		distanceThreshold = signature.DistanceThreshold
	}
	if streakThreshold <= 0 {
		streakThreshold = 3
	}
	if len(safeCodes) == 0 {
		safeCodes = defaultBehaviorSafeCodes()
	}
	codes := make(map[int]struct{}, len(safeCodes))
	for _, c := range safeCodes {
		codes[c] = struct{}{}
	}
	return &DetectBehaviorChange{
		safeCodes:         codes,
		state:             &behaviorState{},
		distanceThreshold: distanceThreshold,
		streakThreshold:   streakThreshold,
	}
}

func (r *DetectBehaviorChange) SetKB(k kb.KnowledgeBase) error {
	return k.Set("behavior_state", r.state)
}

func (r *DetectBehaviorChange) LoadKB(k kb.KnowledgeBase) error {
	v, err := k.Get("behavior_state")
	if err != nil {
		return err
	}
	state, ok := v.(*behaviorState)
	if !ok {
		return fmt.Errorf("kb: behavior_state has unexpected type %T", v)
	}
	r.state = state
	return nil
}

func (r *DetectBehaviorChange) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	if entry.Response == nil || entry.Response.Code < 400 {
		return nil
	}
	if _, safe := r.safeCodes[entry.Response.Code]; safe {
		return nil
	}
	if !entry.Result.HasSimhash {
		return nil
	}

	h := entry.Result.ContentSimhash

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if !r.state.hasBaseline {
		r.state.baseline = h
		r.state.hasBaseline = true
		return nil
	}

	if simhash.Distance(r.state.baseline, h) < r.distanceThreshold {
		r.state.mismatchStreak = 0
		return nil
	}

	r.state.mismatchStreak++
	if r.state.mismatchStreak >= r.streakThreshold {
		entry.Result.ErrorBehavior = true
		// The new shape is the established behavior from here on, so a
		// permanent change doesn't keep re-triggering every subsequent
		// response once it's already been flagged once.
		r.state.baseline = h
		r.state.mismatchStreak = 0
	}
	return nil
}

// RejectErrorBehavior rejects any entry DetectBehaviorChange flagged. Must
// be registered after DetectBehaviorChange in AfterResponse.
type RejectErrorBehavior struct{}

func (RejectErrorBehavior) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	if entry.Result.ErrorBehavior {
		return hterrors.NewRejectRequest("error behavior changed")
	}
	return nil
}
