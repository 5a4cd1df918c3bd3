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
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats tracks the three running counters a HammerTime run reports: how
// many requests were submitted, how many finished (successfully or not),
// and how many attempts were retries rather than first tries. The counters
// are atomics since HammerTime updates them from many concurrent workers.
type Stats struct {
	init      time.Time
	requested atomic.Int64
	completed atomic.Int64
	retries   atomic.Int64

	requestedTotal prometheus.Counter
	completedTotal prometheus.Counter
	retriesTotal   prometheus.Counter
	inFlight       prometheus.Gauge
}

// NewStats returns a Stats clock started at the current time and, when reg
// is non-nil, registers its Prometheus series against reg. Passing a nil
// registry is valid and skips Prometheus wiring entirely.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		init: time.Now(),
		requestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hammertime_requests_submitted_total",
			Help: "Total requests submitted to the engine.",
		}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hammertime_requests_completed_total",
			Help: "Total requests that reached a terminal outcome (success, reject, or exhausted retries).",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hammertime_request_retries_total",
			Help: "Total retry attempts issued by the retry engine.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hammertime_requests_in_flight",
			Help: "Requests currently admitted to the scheduler and not yet completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.requestedTotal, s.completedTotal, s.retriesTotal, s.inFlight)
	}
	return s
}

// Requested records that a new request was submitted.
func (s *Stats) Requested() {
	s.requested.Add(1)
	s.requestedTotal.Inc()
	s.inFlight.Inc()
}

// Completed records that a request reached a terminal outcome.
func (s *Stats) Completed() {
	s.completed.Add(1)
	s.completedTotal.Inc()
	s.inFlight.Dec()
}

// Retried records one retry attempt.
func (s *Stats) Retried() {
	s.retries.Add(1)
	s.retriesTotal.Inc()
}

// Duration reports wall-clock time since the Stats was created.
func (s *Stats) Duration() time.Duration { return time.Since(s.init) }

// Rate reports completed requests per second since creation. It returns 0
// rather than NaN/Inf when no time has elapsed yet.
func (s *Stats) Rate() float64 {
	d := s.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(s.completed.Load()) / d
}

// Snapshot is a point-in-time, immutable view of Stats, useful for logging
// or exposing over an API without handing out the live counters.
type Snapshot struct {
	Requested int64
	Completed int64
	Retries   int64
	Duration  time.Duration
	Rate      float64
}

// Snapshot takes a consistent-enough snapshot of the current counters. The
// three loads aren't taken atomically as a group; benign read skew on hot
// counters used only for reporting is acceptable.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Requested: s.requested.Load(),
		Completed: s.completed.Load(),
		Retries:   s.retries.Load(),
		Duration:  s.Duration(),
		Rate:      s.Rate(),
	}
}
