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
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"hammertime/internal/hterrors"
)

// Handle is returned by Submit: a caller that needs the individual outcome
// of one request (rather than only watching the success stream) can wait
// on it directly.
type Handle struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Wait blocks until the request this Handle refers to has completed (or
// ctx is done first), then returns its Entry or its terminal error.
func (h *Handle) Wait(ctx context.Context) (*Entry, error) {
	select {
	case <-h.done:
		return h.entry, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(entry *Entry, err error) {
	h.entry = entry
	h.err = err
	close(h.done)
}

// HammerTime is the top-level facade: submit requests, optionally stream
// the successful ones, and close down cleanly. Every submission passes
// through the request scheduler (bounding how many processing tasks exist
// at once) and then the retry engine (bounding transport concurrency via
// the scaling policy's semaphore).
type HammerTime struct {
	retryEngine *RetryEngine
	heuristics  Heuristics
	stats       *Stats
	scheduler   *RequestScheduler

	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
	stopSig  chan os.Signal
	success  chan *Entry
	closeErr error
}

// New builds a HammerTime facade around a RetryEngine that has already
// been wired to heuristics and had its rules added: construct the
// RetryEngine and Stats, wire SetEngine/SetKB, add rules, only then call
// New to freeze the graph and start accepting Submit calls.
// schedulerLimit bounds how many submissions are processed concurrently
// (1024 if <= 0).
func New(retryEngine *RetryEngine, heuristics Heuristics, stats *Stats, schedulerLimit int) *HammerTime {
	if stats == nil {
		stats = NewStats(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &HammerTime{
		retryEngine: retryEngine,
		heuristics:  heuristics,
		stats:       stats,
		scheduler:   NewRequestScheduler(schedulerLimit),
		ctx:         ctx,
		cancel:      cancel,
		success:     make(chan *Entry, 256),
	}
	h.stopSig = make(chan os.Signal, 1)
	signal.Notify(h.stopSig, os.Interrupt, syscall.SIGINT)
	go h.awaitInterrupt()
	return h
}

func (h *HammerTime) awaitInterrupt() {
	select {
	case <-h.stopSig:
		h.Close()
	case <-h.ctx.Done():
	}
}

// Stats exposes the running counters.
func (h *HammerTime) Stats() *Stats { return h.stats }

// IsClosed reports whether Close has completed.
func (h *HammerTime) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Submit starts processing req asynchronously and returns a Handle for
// its eventual outcome. If the facade is already closed, the returned
// Handle resolves immediately with context.Canceled.
func (h *HammerTime) Submit(req *Request) *Handle {
	handle := &Handle{done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		handle.resolve(nil, context.Canceled)
		return handle
	}
	h.stats.Requested()
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer h.stats.Completed()

		err := h.scheduler.Submit(h.ctx, func(ctx context.Context) {
			entry := NewEntry(req)
			result, err := h.retryEngine.Perform(ctx, entry, h.heuristics)
			handle.resolve(result, err)

			if err == nil {
				select {
				case h.success <- result:
				case <-ctx.Done():
				}
				return
			}
			if hterrors.IsStop(err) || hterrors.IsReject(err) || err == context.Canceled {
				return
			}
			log.Printf("hammertime: request failed: %v", err)
		})
		if err != nil {
			// Never started: the scheduler rejected it (closing) or the
			// facade context ended while it was still queued.
			handle.resolve(nil, context.Canceled)
		}
	}()

	return handle
}

// SuccessfulRequests returns the channel successfully completed Entries
// are delivered on. The channel is closed once Close has drained every
// in-flight request, which is the stream's terminal signal.
func (h *HammerTime) SuccessfulRequests() <-chan *Entry { return h.success }

// Close cancels all in-flight work, waits for it to settle, closes the
// transport, and marks the facade closed. Calling Close more than once is
// a no-op after the first call completes.
func (h *HammerTime) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.closeErr
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.scheduler.Close()
	close(h.success)

	err := h.retryEngine.Close()
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
	signal.Stop(h.stopSig)
	return err
}

// SetProxy forwards a proxy configuration change to the transport.
func (h *HammerTime) SetProxy(proxy string) { h.retryEngine.SetProxy(proxy) }
