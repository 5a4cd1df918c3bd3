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

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// ConcurrencyPolicy hands out the permit that gates in-flight requests and
// gets told how long each request took, so it can adjust the permit count.
// StaticPolicy and SlowStartPolicy are the two implementations.
type ConcurrencyPolicy interface {
	Semaphore() *ResizableSemaphore
	Record(duration time.Duration)
}

// StaticPolicy runs a fixed concurrency with no adaptive behavior.
type StaticPolicy struct {
	sem *ResizableSemaphore
}

// NewStaticPolicy returns a StaticPolicy holding size permits permanently.
func NewStaticPolicy(size int) *StaticPolicy {
	return &StaticPolicy{sem: NewResizableSemaphore(size, size, size)}
}

func (p *StaticPolicy) Semaphore() *ResizableSemaphore { return p.sem }
func (p *StaticPolicy) Record(time.Duration)           {}

// ResizableSemaphore is a channel-backed semaphore whose permit count can
// grow or shrink while acquire/release calls are in flight: growing pushes
// new tokens into the channel, shrinking drains tokens from the channel
// and, when none are immediately available (every permit is checked out),
// records the shortfall in extra so the next Release swallows a token
// instead of returning it to circulation.
type ResizableSemaphore struct {
	mu               sync.Mutex
	tokens           chan struct{}
	minimum, maximum int
	current          int
	extra            int
}

// NewResizableSemaphore returns a semaphore starting at initial permits,
// clamped to [minimum, maximum].
func NewResizableSemaphore(minimum, maximum, initial int) *ResizableSemaphore {
	s := &ResizableSemaphore{
		tokens:  make(chan struct{}, maximum),
		minimum: minimum,
		maximum: maximum,
	}
	s.current = s.clamp(initial)
	for i := 0; i < s.current; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

func (s *ResizableSemaphore) clamp(v int) int {
	if v > s.maximum {
		return s.maximum
	}
	if v < s.minimum {
		return s.minimum
	}
	return v
}

// IsMax reports whether the semaphore is at its current ceiling.
func (s *ResizableSemaphore) IsMax() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == s.maximum
}

// IsMin reports whether the semaphore is at its floor.
func (s *ResizableSemaphore) IsMin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == s.minimum
}

// Current returns the live permit count.
func (s *ResizableSemaphore) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentAsMaximum locks the ceiling to the current permit count, the
// point at which SlowStartPolicy decides it has found the server's limit.
func (s *ResizableSemaphore) CurrentAsMaximum() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maximum = s.current
}

// Add grows the permit count by quantity, clamped to maximum, pushing one
// new token per added permit.
func (s *ResizableSemaphore) Add(quantity int) {
	s.mu.Lock()
	target := s.clamp(s.current + quantity)
	for s.current < target {
		s.current++
		s.tokens <- struct{}{}
	}
	s.mu.Unlock()
}

// Remove shrinks the permit count by quantity, clamped to minimum. Tokens
// that are already checked out can't be pulled back immediately; each one
// missed is recorded in extra and absorbed by a future Release instead.
func (s *ResizableSemaphore) Remove(quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.clamp(s.current - quantity)
	for s.current > target {
		select {
		case <-s.tokens:
		default:
			s.extra++
		}
		s.current--
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *ResizableSemaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit, unless a pending shrink is still owed a token,
// in which case the permit is absorbed instead of recirculated.
func (s *ResizableSemaphore) Release() {
	s.mu.Lock()
	if s.extra > 0 {
		s.extra--
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.tokens <- struct{}{}
}

// cohort is one aggregated sample point: the concurrency level in effect
// and the mean wait observed during it.
type cohort struct {
	scale       int
	averageWait time.Duration
}

// SlowStartPolicy begins at a low concurrency and scales up while the
// remote host keeps pace: cohorts of cohortSize requests are timed
// together; while no ceiling has been found the target is the rolling
// average of prior cohorts' mean wait
// (tracked with a moving-average window so one noisy cohort doesn't swing
// the target). A cohort whose mean wait exceeds the tolerance band shrinks
// the concurrency by the increment; if that happens while scaling up (the
// previous cohort ran at a lower concurrency), the policy shrinks by one
// more, locks the result as the ceiling, drops the increment to 1, and
// keeps the last target from then on.
type SlowStartPolicy struct {
	sem        *ResizableSemaphore
	mu         sync.Mutex
	cohortSize int
	tolerance  float64
	increment  int

	cohortCount    int
	cohortDuration time.Duration

	cohorts       []cohort
	rollingTarget *movingaverage.MovingAverage
	hasMutation   bool
	ceilingFound  bool
	lockedTarget  time.Duration
}

// NewSlowStartPolicy returns a SlowStartPolicy seeded at initial permits,
// bounded to [minimum, maximum], analyzing in cohorts of cohortSize
// requests with the given tolerance band (e.g. 0.15 for +/-15%).
func NewSlowStartPolicy(minimum, maximum, initial, cohortSize int, tolerance float64) *SlowStartPolicy {
	if cohortSize < 1 {
		cohortSize = 1
	}
	return &SlowStartPolicy{
		sem:           NewResizableSemaphore(minimum, maximum, initial),
		cohortSize:    cohortSize,
		tolerance:     tolerance,
		increment:     2,
		hasMutation:   true,
		rollingTarget: movingaverage.New(8),
	}
}

func (p *SlowStartPolicy) Semaphore() *ResizableSemaphore { return p.sem }

// Concurrency reports the current permit count, for logging/telemetry.
func (p *SlowStartPolicy) Concurrency() int { return p.sem.Current() }

// Record logs one request's wait duration and, once a full cohort has
// accumulated, runs the scale adjustment.
func (p *SlowStartPolicy) Record(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cohortDuration += duration
	p.cohortCount++
	if p.cohortCount != p.cohortSize {
		return
	}

	defer p.resetCohort()

	if p.hasMutation {
		// This cohort ran while the concurrency was still settling from the
		// last adjustment; discard it rather than let a tainted sample
		// drive the next decision.
		p.hasMutation = false
		return
	}

	mean := p.cohortDuration / time.Duration(p.cohortCount)
	p.cohorts = append(p.cohorts, cohort{scale: p.sem.Current(), averageWait: mean})

	if len(p.cohorts) >= 2 {
		p.hasMutation = p.adjustScale()
	}
}

func (p *SlowStartPolicy) adjustScale() bool {
	prev := p.cohorts[len(p.cohorts)-2]
	curr := p.cohorts[len(p.cohorts)-1]

	var target time.Duration
	if !p.ceilingFound {
		// Before the ceiling is found, feed every cohort but the one just
		// recorded into the rolling average, so the average always lags
		// one cohort behind the sample it's about to judge.
		p.rollingTarget.Add(float64(prev.averageWait))
		target = time.Duration(p.rollingTarget.Avg())
	} else {
		target = p.lockedTarget
	}

	upperBound := time.Duration(float64(target) * (1 + p.tolerance))

	switch {
	case curr.averageWait > upperBound && !p.sem.IsMin():
		p.sem.Remove(p.increment)

		if !p.ceilingFound && prev.scale < curr.scale {
			p.ceilingFound = true
			p.increment = 1
			p.lockedTarget = target
			p.sem.Remove(p.increment)
			p.sem.CurrentAsMaximum()
		}
	case curr.averageWait < upperBound && !p.sem.IsMax():
		p.sem.Add(p.increment)
	}

	return curr.scale != p.sem.Current()
}

func (p *SlowStartPolicy) resetCohort() {
	p.cohortCount = 0
	p.cohortDuration = 0
}
