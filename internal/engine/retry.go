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

package engine

import (
	"context"
	"sync"
	"time"

	"hammertime/internal/hterrors"
)

// defaultPriorityLaneSize caps the high-priority lane used by internal
// probes.
const defaultPriorityLaneSize = 10

// RetryEngine wraps a RequestEngine with two independent admission lanes
// and an attempt-based retry loop. The general lane is gated by the
// concurrency policy's resizable semaphore, so bulk traffic both respects
// and trains the slow-start model; the narrow priority lane carries
// internal probes (soft-404 sampling, catch-all checks, redirect
// follow-ups) that must not queue behind the general backlog. Retries only
// ever respond to StopRequest, never to RejectRequest, and each lane's
// permit is held for the duration of one attempt, so a slow retry on one
// entry doesn't hold the lane for everyone else.
type RetryEngine struct {
	requestEngine RequestEngine
	stats         *Stats

	policy          ConcurrencyPolicy
	priorityLimiter *ResizableSemaphore

	retryCount int
	retryDelay time.Duration

	// defaultHeuristics backs PerformHighPriority calls that don't supply
	// their own heuristics; captured from the first Perform call.
	mu                sync.Mutex
	defaultHeuristics Heuristics
}

// NewRetryEngine wraps requestEngine with retryCount extra attempts spaced
// retryDelay apart, admitting general traffic through policy's semaphore.
// priorityLaneSize defaults to 10 when given as 0.
func NewRetryEngine(requestEngine RequestEngine, stats *Stats, policy ConcurrencyPolicy, retryCount int, retryDelay time.Duration, priorityLaneSize int) *RetryEngine {
	if priorityLaneSize <= 0 {
		priorityLaneSize = defaultPriorityLaneSize
	}
	if policy == nil {
		policy = NewStaticPolicy(50)
	}
	return &RetryEngine{
		requestEngine:   requestEngine,
		stats:           stats,
		policy:          policy,
		priorityLimiter: NewResizableSemaphore(priorityLaneSize, priorityLaneSize, priorityLaneSize),
		retryCount:      retryCount,
		retryDelay:      retryDelay,
	}
}

// Perform runs entry through the general lane, retrying on StopRequest up
// to retryCount times. Each attempt's wall-clock time is fed back into the
// concurrency policy, which is how the slow-start model learns.
func (e *RetryEngine) Perform(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error) {
	e.mu.Lock()
	if e.defaultHeuristics == nil {
		e.defaultHeuristics = heuristics
	}
	e.mu.Unlock()
	return e.perform(ctx, entry, heuristics, false)
}

// PerformHighPriority runs entry through the narrower priority lane. A nil
// heuristics falls back to the heuristics set captured from the first
// Perform call.
func (e *RetryEngine) PerformHighPriority(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error) {
	if heuristics == nil {
		e.mu.Lock()
		heuristics = e.defaultHeuristics
		e.mu.Unlock()
	}
	return e.perform(ctx, entry, heuristics, true)
}

func (e *RetryEngine) perform(ctx context.Context, entry *Entry, heuristics Heuristics, priority bool) (*Entry, error) {
	for {
		var err error
		var result *Entry
		if priority {
			if err = e.priorityLimiter.Acquire(ctx); err != nil {
				return nil, err
			}
			result, err = e.requestEngine.Perform(ctx, entry, heuristics)
			e.priorityLimiter.Release()
		} else {
			sem := e.policy.Semaphore()
			if err = sem.Acquire(ctx); err != nil {
				return nil, err
			}
			started := time.Now()
			result, err = e.requestEngine.Perform(ctx, entry, heuristics)
			e.policy.Record(time.Since(started))
			sem.Release()
		}

		if err == nil {
			entry = result
			if hErr := heuristics.OnRequestSuccessful(ctx, entry); hErr != nil {
				return nil, hErr
			}
			return entry, nil
		}

		if !hterrors.IsStop(err) {
			return nil, err
		}

		if entry.Result.Attempt > e.retryCount {
			return nil, err
		}

		entry.Result.Attempt++
		if e.stats != nil {
			e.stats.Retried()
		}
		entry.Response = nil

		select {
		case <-time.After(e.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RetryCount reports the configured number of extra attempts beyond the
// first, so a rule (e.g. the dynamic-timeout rule) can recognize when an
// entry is on its last possible attempt.
func (e *RetryEngine) RetryCount() int { return e.retryCount }

// Policy exposes the general-lane concurrency policy, mostly for telemetry.
func (e *RetryEngine) Policy() ConcurrencyPolicy { return e.policy }

// Close releases the underlying request engine's resources.
func (e *RetryEngine) Close() error {
	if e.requestEngine != nil {
		return e.requestEngine.Close()
	}
	return nil
}

// SetProxy forwards a proxy configuration change to the request engine.
func (e *RetryEngine) SetProxy(proxy string) {
	if e.requestEngine != nil {
		e.requestEngine.SetProxy(proxy)
	}
}
