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
	"strings"
	"testing"

	"hammertime/internal/engine"
)

func TestBodySize(t *testing.T) {
	t.Run("InitialLimitUntilEnoughSamples", func(t *testing.T) {
		b := NewBodySize(1000)
		if b.ApplicableLimit() != 1000 {
			t.Fatalf("ApplicableLimit = %d, want the initial 1000", b.ApplicableLimit())
		}
		b.Add(500)
		if _, ok := b.CalculatedLimit(); ok {
			t.Error("calculated limit frozen after one sample")
		}
	})

	t.Run("FreezesAfterCap", func(t *testing.T) {
		b := NewBodySize(1000)
		for i := 0; i <= bodySizeSampleCap; i++ {
			b.Add(2000)
		}
		limit, ok := b.CalculatedLimit()
		if !ok {
			t.Fatal("limit not calculated after the sample cap")
		}
		// Zero variance: mean + 5*stdev = 2000.
		if limit != 2000 {
			t.Errorf("calculated limit = %d, want 2000", limit)
		}
		if b.ApplicableLimit() != 2000 {
			t.Errorf("ApplicableLimit = %d, want the calculated 2000", b.ApplicableLimit())
		}

		// Further samples must not move a frozen limit.
		for i := 0; i < 100; i++ {
			b.Add(1 << 30)
		}
		if b.ApplicableLimit() != 2000 {
			t.Error("frozen limit drifted after more samples")
		}
	})
}

func TestIgnoreLargeBody(t *testing.T) {
	ctx := context.Background()

	t.Run("ContentLengthFeedsModel", func(t *testing.T) {
		r := NewIgnoreLargeBody(1000)
		entry := engine.NewEntry(engine.NewRequest("http://example.com/x"))
		entry.Response = respond(200, "", map[string]string{"Content-Length": "512"})

		if err := r.AfterHeaders(ctx, entry); err != nil {
			t.Fatalf("AfterHeaders: %v", err)
		}
		if entry.Result.ReadLength != 1000 {
			t.Errorf("ReadLength = %d, want the initial limit 1000", entry.Result.ReadLength)
		}
	})

	t.Run("UnparseableContentLengthIgnored", func(t *testing.T) {
		r := NewIgnoreLargeBody(1000)
		entry := engine.NewEntry(engine.NewRequest("http://example.com/x"))
		entry.Response = respond(200, "", map[string]string{"Content-Length": "banana"})

		if err := r.AfterHeaders(ctx, entry); err != nil {
			t.Fatalf("AfterHeaders: %v", err)
		}
		if entry.Result.ReadLength != -1 {
			t.Errorf("ReadLength = %d, want -1 (unlimited) when the header is junk", entry.Result.ReadLength)
		}
	})

	t.Run("PostReadTruncation", func(t *testing.T) {
		r := NewIgnoreLargeBody(100)
		entry := engine.NewEntry(engine.NewRequest("http://example.com/x"))
		entry.Response = respond(200, strings.Repeat("x", 250), nil) // no Content-Length

		if err := r.AfterHeaders(ctx, entry); err != nil {
			t.Fatalf("AfterHeaders: %v", err)
		}
		if err := r.AfterResponse(ctx, entry); err != nil {
			t.Fatalf("AfterResponse: %v", err)
		}
		if len(entry.Response.Raw) != 100 {
			t.Errorf("body length after truncation = %d, want 100", len(entry.Response.Raw))
		}
		if !entry.Response.Truncated {
			t.Error("Truncated flag not set")
		}
	})

	t.Run("SmallBodyUntouched", func(t *testing.T) {
		r := NewIgnoreLargeBody(100)
		entry := engine.NewEntry(engine.NewRequest("http://example.com/x"))
		entry.Response = respond(200, "tiny", nil)

		r.AfterHeaders(ctx, entry)
		r.AfterResponse(ctx, entry)
		if entry.Response.Truncated || string(entry.Response.Raw) != "tiny" {
			t.Errorf("small body modified: truncated=%v raw=%q", entry.Response.Truncated, entry.Response.Raw)
		}
	})
}
