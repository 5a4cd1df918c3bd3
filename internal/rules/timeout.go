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
	"time"

	"hammertime/internal/engine"
	"hammertime/internal/kb"
)

// timeoutTrimFactor lets the sample buffer grow to 5x sampleSize before
// being trimmed back, so a burst of activity doesn't force a trim on every
// single request.
const timeoutTrimFactor = 5

// TimeoutManager is the shared model DynamicTimeout publishes to the KB: a
// rolling buffer of observed request durations, plus a per-host memory of
// how much a timeout should be inflated after a timeout was just seen
// there.
type TimeoutManager struct {
	mu         sync.Mutex
	sampleSize int
	minTimeout time.Duration
	maxTimeout time.Duration

	samples    []time.Duration
	retryFloor map[string]time.Duration
}

// NewTimeoutManager returns a TimeoutManager computing its target from the
// most recent sampleSize durations, clamped to [minTimeout, maxTimeout].
func NewTimeoutManager(sampleSize int, minTimeout, maxTimeout time.Duration) *TimeoutManager {
	if sampleSize < 1 {
		sampleSize = 1
	}
	return &TimeoutManager{
		sampleSize: sampleSize,
		minTimeout: minTimeout,
		maxTimeout: maxTimeout,
		retryFloor: map[string]time.Duration{},
	}
}

// add records one successful request's duration, trimming the buffer back
// to its most recent sampleSize entries once it grows past
// sampleSize*timeoutTrimFactor.
func (t *TimeoutManager) add(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, d)
	if limit := t.sampleSize * timeoutTrimFactor; len(t.samples) > limit {
		t.samples = append([]time.Duration(nil), t.samples[len(t.samples)-t.sampleSize:]...)
	}
}

// calculated returns mean*2 + stdev*4 over the most recent sampleSize
// observations, clamped to [minTimeout, maxTimeout]. With no observations
// yet it returns maxTimeout: be generous until we know better.
func (t *TimeoutManager) calculated() time.Duration {
	t.mu.Lock()
	recent := t.samples
	if len(recent) > t.sampleSize {
		recent = recent[len(recent)-t.sampleSize:]
	}
	window := append([]time.Duration(nil), recent...)
	t.mu.Unlock()

	if len(window) == 0 {
		return t.maxTimeout
	}

	xs := make([]float64, len(window))
	for i, d := range window {
		xs[i] = float64(d)
	}
	mean, stdev := meanStdev(xs)
	value := time.Duration(mean*2 + stdev*4)
	return clampDuration(value, t.minTimeout, t.maxTimeout)
}

// recordTimeout doubles the retry floor remembered for host (seeding it at
// minTimeout the first time), so the next attempt against a host that just
// timed out starts from a more patient floor than the rolling average alone
// would produce.
func (t *TimeoutManager) recordTimeout(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.retryFloor[host]
	if cur == 0 {
		cur = t.minTimeout
	}
	next := cur * 2
	if next > t.maxTimeout {
		next = t.maxTimeout
	}
	t.retryFloor[host] = next
}

// retryFloorFor returns the remembered floor for host, or 0 if none.
func (t *TimeoutManager) retryFloorFor(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryFloor[host]
}

// clearRetryFloor forgets host's remembered floor once a request against it
// succeeds.
func (t *TimeoutManager) clearRetryFloor(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.retryFloor, host)
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// DynamicTimeout sets each request's timeout from a rolling model of recent
// response times instead of one fixed value: generous for the first
// requests against a host, tightening as the model learns, inflated again
// after a timeout, and forced to the ceiling on an entry's last possible
// attempt so a request about to be given up on gets every remaining second
// to succeed.
type DynamicTimeout struct {
	requestEngine engine.Engine
	data          *TimeoutManager
}

// NewDynamicTimeout builds a DynamicTimeout computing its target from the
// most recent sampleSize durations, clamped to [minTimeout, maxTimeout].
func NewDynamicTimeout(sampleSize int, minTimeout, maxTimeout time.Duration) *DynamicTimeout {
	return &DynamicTimeout{data: NewTimeoutManager(sampleSize, minTimeout, maxTimeout)}
}

func (r *DynamicTimeout) SetEngine(e engine.Engine) { r.requestEngine = e }

func (r *DynamicTimeout) SetKB(k kb.KnowledgeBase) error {
	return k.Set("timeout_manager", r.data)
}

func (r *DynamicTimeout) LoadKB(k kb.KnowledgeBase) error {
	v, err := k.Get("timeout_manager")
	if err != nil {
		return err
	}
	data, ok := v.(*TimeoutManager)
	if !ok {
		return fmt.Errorf("kb: timeout_manager has unexpected type %T", v)
	}
	r.data = data
	return nil
}

func (r *DynamicTimeout) isLastAttempt(entry *engine.Entry) bool {
	if r.requestEngine == nil {
		return false
	}
	return entry.Result.Attempt >= r.requestEngine.RetryCount()+1
}

func (r *DynamicTimeout) BeforeRequest(ctx context.Context, entry *engine.Entry) error {
	host := hostOf(entry.Request.URL)

	if r.isLastAttempt(entry) {
		entry.Request.Arguments["timeout"] = r.data.maxTimeout
		return nil
	}

	timeout := r.data.calculated()
	if floor := r.data.retryFloorFor(host); floor > timeout {
		timeout = floor
	}
	entry.Request.Arguments["timeout"] = timeout
	return nil
}

func (r *DynamicTimeout) OnRequestSuccessful(ctx context.Context, entry *engine.Entry) error {
	r.data.add(time.Since(entry.StartedAt))
	r.data.clearRetryFloor(hostOf(entry.Request.URL))
	return nil
}

func (r *DynamicTimeout) OnTimeout(ctx context.Context, entry *engine.Entry) {
	r.data.recordTimeout(hostOf(entry.Request.URL))
}
