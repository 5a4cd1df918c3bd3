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
	"testing"

	"hammertime/internal/hterrors"
)

// fakeRequestEngine scripts one response per attempt: an error consumes the
// next script slot, a nil produces a 200.
type fakeRequestEngine struct {
	mu      sync.Mutex
	script  []error
	calls   int
	closed  bool
	proxied string
}

func (f *fakeRequestEngine) Perform(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error) {
	f.mu.Lock()
	var err error
	if f.calls < len(f.script) {
		err = f.script[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	entry.Response = &Response{Code: 200, Headers: map[string]string{}, Raw: []byte("ok")}
	return entry, nil
}

func (f *fakeRequestEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRequestEngine) SetProxy(proxy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxied = proxy
}

// nopHeuristics satisfies Heuristics with every hook a no-op.
type nopHeuristics struct{}

func (nopHeuristics) BeforeRequest(ctx context.Context, entry *Entry) error       { return nil }
func (nopHeuristics) AfterHeaders(ctx context.Context, entry *Entry) error        { return nil }
func (nopHeuristics) AfterResponse(ctx context.Context, entry *Entry) error       { return nil }
func (nopHeuristics) OnRequestSuccessful(ctx context.Context, entry *Entry) error { return nil }
func (nopHeuristics) OnTimeout(ctx context.Context, entry *Entry)                 {}
func (nopHeuristics) OnHostUnreachable(ctx context.Context, entry *Entry)         {}

func TestRetryEngine(t *testing.T) {
	t.Run("FirstAttemptSucceeds", func(t *testing.T) {
		fake := &fakeRequestEngine{}
		stats := NewStats(nil)
		re := NewRetryEngine(fake, stats, NewStaticPolicy(2), 3, 0, 0)

		entry, err := re.Perform(context.Background(), NewEntry(NewRequest("http://example.com/a")), nopHeuristics{})
		if err != nil {
			t.Fatalf("Perform: %v", err)
		}
		if entry.Result.Attempt != 1 {
			t.Errorf("Attempt = %d, want 1", entry.Result.Attempt)
		}
		if stats.Snapshot().Retries != 0 {
			t.Errorf("Retries = %d, want 0", stats.Snapshot().Retries)
		}
	})

	t.Run("RetriesOnStopRequest", func(t *testing.T) {
		fake := &fakeRequestEngine{script: []error{
			hterrors.NewStopRequest("Timeout reached"),
			hterrors.NewStopRequest("Timeout reached"),
			nil,
		}}
		stats := NewStats(nil)
		re := NewRetryEngine(fake, stats, NewStaticPolicy(2), 2, 0, 0)

		entry, err := re.Perform(context.Background(), NewEntry(NewRequest("http://example.com/x")), nopHeuristics{})
		if err != nil {
			t.Fatalf("Perform: %v", err)
		}
		if entry.Result.Attempt != 3 {
			t.Errorf("Attempt = %d, want 3", entry.Result.Attempt)
		}
		if got := stats.Snapshot().Retries; got != 2 {
			t.Errorf("Retries = %d, want 2", got)
		}
	})

	t.Run("BudgetExhausted", func(t *testing.T) {
		fake := &fakeRequestEngine{script: []error{
			hterrors.NewStopRequest("reset"),
			hterrors.NewStopRequest("reset"),
			hterrors.NewStopRequest("reset"),
		}}
		re := NewRetryEngine(fake, NewStats(nil), NewStaticPolicy(2), 2, 0, 0)

		_, err := re.Perform(context.Background(), NewEntry(NewRequest("http://example.com/x")), nopHeuristics{})
		if !hterrors.IsStop(err) {
			t.Fatalf("Perform = %v, want the final StopRequest", err)
		}
		if fake.calls != 3 {
			t.Errorf("transport calls = %d, want 3 (1 try + 2 retries)", fake.calls)
		}
	})

	t.Run("RejectNeverRetried", func(t *testing.T) {
		fake := &fakeRequestEngine{script: []error{hterrors.NewRejectRequest("filtered")}}
		re := NewRetryEngine(fake, NewStats(nil), NewStaticPolicy(2), 5, 0, 0)

		_, err := re.Perform(context.Background(), NewEntry(NewRequest("http://example.com/x")), nopHeuristics{})
		if !hterrors.IsReject(err) {
			t.Fatalf("Perform = %v, want RejectRequest", err)
		}
		if fake.calls != 1 {
			t.Errorf("transport calls = %d, want 1 (rejects are terminal)", fake.calls)
		}
	})

	t.Run("ResponseClearedBetweenAttempts", func(t *testing.T) {
		fake := &fakeRequestEngine{}
		script := []error{hterrors.NewStopRequest("half response")}
		fake.script = script
		re := NewRetryEngine(fake, NewStats(nil), NewStaticPolicy(2), 1, 0, 0)

		entry := NewEntry(NewRequest("http://example.com/x"))
		entry.Response = &Response{Code: 500} // stale partial response
		result, err := re.Perform(context.Background(), entry, nopHeuristics{})
		if err != nil {
			t.Fatalf("Perform: %v", err)
		}
		if result.Response == nil || result.Response.Code != 200 {
			t.Error("retry did not replace the stale response")
		}
	})

	t.Run("HighPriorityFallsBackToDefaultHeuristics", func(t *testing.T) {
		fake := &fakeRequestEngine{}
		re := NewRetryEngine(fake, NewStats(nil), NewStaticPolicy(2), 0, 0, 0)

		// Capture the default pipeline via a general-lane call first.
		if _, err := re.Perform(context.Background(), NewEntry(NewRequest("http://example.com/a")), nopHeuristics{}); err != nil {
			t.Fatalf("Perform: %v", err)
		}
		if _, err := re.PerformHighPriority(context.Background(), NewEntry(NewRequest("http://example.com/probe")), nil); err != nil {
			t.Fatalf("PerformHighPriority with nil heuristics: %v", err)
		}
	})

	t.Run("CloseAndProxyForwarded", func(t *testing.T) {
		fake := &fakeRequestEngine{}
		re := NewRetryEngine(fake, NewStats(nil), nil, 0, 0, 0)
		re.SetProxy("http://proxy:8080")
		if fake.proxied != "http://proxy:8080" {
			t.Error("SetProxy not forwarded")
		}
		if err := re.Close(); err != nil || !fake.closed {
			t.Error("Close not forwarded")
		}
	})
}
