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
	"sync"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
	"hammertime/internal/store"
)

// hostCounters is the per-host bookkeeping: how many requests have been
// attempted against the host and how many of those timed out, plus the
// latch that, once tripped, makes every further request against the host
// fail fast.
type hostCounters struct {
	mu           sync.Mutex
	requestCount int
	timeoutCount int
	dead         bool
}

// DeadHostDetection short-circuits requests to a host that has shown
// enough timeouts to no longer be worth trying: once a host's observed
// timeout ratio since its last successful response crosses maxTimeoutRatio
// (with at least minRequests samples to avoid judging a host on one
// unlucky request), or every request in that window has timed out, the
// host is marked dead and every subsequent BeforeRequest against it fails
// immediately with OfflineHostException instead of spending a connection
// attempt finding out again.
type DeadHostDetection struct {
	hosts           *store.Keyed[*hostCounters]
	minRequests     int
	maxTimeoutRatio float64
}

// NewDeadHostDetection builds a DeadHostDetection requiring at least
// minRequests observations before judging a host by ratio, and marking a
// host dead once its timeout ratio reaches maxTimeoutRatio.
func NewDeadHostDetection(minRequests int, maxTimeoutRatio float64) *DeadHostDetection {
	if minRequests < 1 {
		minRequests = 1
	}
	return &DeadHostDetection{
		hosts:           store.New(func() *hostCounters { return &hostCounters{} }),
		minRequests:     minRequests,
		maxTimeoutRatio: maxTimeoutRatio,
	}
}

func (r *DeadHostDetection) BeforeRequest(ctx context.Context, entry *engine.Entry) error {
	host := hostOf(entry.Request.URL)
	state := r.hosts.GetOrCreate(host)

	state.mu.Lock()
	dead := state.dead
	if !dead {
		state.requestCount++
	}
	state.mu.Unlock()

	if dead {
		return hterrors.NewOfflineHostException(host)
	}
	return nil
}

// OnRequestSuccessful resets both counters: a host that just answered is
// judged on a fresh window, not on timeouts from before it recovered.
func (r *DeadHostDetection) OnRequestSuccessful(ctx context.Context, entry *engine.Entry) error {
	host := hostOf(entry.Request.URL)
	state := r.hosts.GetOrCreate(host)

	state.mu.Lock()
	state.requestCount = 0
	state.timeoutCount = 0
	state.mu.Unlock()
	return nil
}

func (r *DeadHostDetection) OnTimeout(ctx context.Context, entry *engine.Entry) {
	host := hostOf(entry.Request.URL)
	state := r.hosts.GetOrCreate(host)

	state.mu.Lock()
	defer state.mu.Unlock()
	state.timeoutCount++
	// A timeout is itself evidence of an attempt, so the request count never
	// trails the timeout count (e.g. after a reset while requests were in
	// flight).
	if state.requestCount < state.timeoutCount {
		state.requestCount = state.timeoutCount
	}

	allTimedOut := state.timeoutCount == state.requestCount
	enoughSamples := state.requestCount >= r.minRequests
	ratio := float64(state.timeoutCount) / float64(state.requestCount)

	if enoughSamples && (allTimedOut || ratio >= r.maxTimeoutRatio) {
		state.dead = true
	}
}

// OnHostUnreachable marks the host dead outright: a connection-level
// failure (DNS, refused, reset) is a stronger signal than a timeout and
// needs no ratio to act on.
func (r *DeadHostDetection) OnHostUnreachable(ctx context.Context, entry *engine.Entry) {
	host := hostOf(entry.Request.URL)
	state := r.hosts.GetOrCreate(host)

	state.mu.Lock()
	state.dead = true
	state.mu.Unlock()
}
