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
)

// RequestScheduler bounds how many submitted tasks run at once. This bound
// is independent of the concurrency policy inside the retry engine: the
// policy governs how many transport calls are in flight, the scheduler
// governs how many request-processing tasks the facade has spawned at all,
// so a caller dumping a million URLs into Submit has at most limit of them
// being processed at once; the rest block in Submit until a slot frees.
type RequestScheduler struct {
	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	pending int
	closed  bool
}

// NewRequestScheduler returns a scheduler running at most limit tasks
// concurrently (1024 if limit <= 0).
func NewRequestScheduler(limit int) *RequestScheduler {
	if limit <= 0 {
		limit = 1024
	}
	return &RequestScheduler{slots: make(chan struct{}, limit)}
}

// Submit blocks until a slot is free (or ctx is done), then runs task in
// its own goroutine. A task whose ctx is cancelled while still waiting for
// a slot is discarded without ever being started.
func (s *RequestScheduler) Submit(ctx context.Context, task func(ctx context.Context)) error {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.slots
		return context.Canceled
	}
	s.pending++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.pending--
			s.mu.Unlock()
			<-s.slots
		}()
		task(ctx)
	}()
	return nil
}

// Pending reports how many tasks are currently running.
func (s *RequestScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close rejects further Submit calls and waits for every running task to
// finish.
func (s *RequestScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
