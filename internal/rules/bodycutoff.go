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
	"math"
	"strconv"
	"sync"

	"hammertime/internal/engine"
	"hammertime/internal/kb"
)

// bodySizeSampleCap is how many Content-Length observations accumulate
// before the initial default limit is replaced by a calculated one.
const bodySizeSampleCap = 500

// BodySize is the shared model IgnoreLargeBody publishes to the KB: a
// running collection of observed Content-Length values that, once 500
// samples have accumulated, freezes a calculated limit of mean + 5*stdev.
type BodySize struct {
	mu              sync.Mutex
	initialLimit    int
	collected       []float64
	calculatedLimit int
	hasCalculated   bool
}

// NewBodySize returns a BodySize falling back to initialLimit until enough
// samples accumulate to calculate a data-driven limit.
func NewBodySize(initialLimit int) *BodySize {
	if initialLimit <= 0 {
		initialLimit = 1024 * 1024
	}
	return &BodySize{initialLimit: initialLimit}
}

// ApplicableLimit returns the calculated limit once available, else the
// initial default.
func (b *BodySize) ApplicableLimit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasCalculated {
		return b.calculatedLimit
	}
	return b.initialLimit
}

// CalculatedLimit returns the data-driven limit and whether one has been
// computed yet.
func (b *BodySize) CalculatedLimit() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calculatedLimit, b.hasCalculated
}

// Add records one observed length. Once bodySizeSampleCap samples have
// been collected, the calculated limit is frozen and further samples are
// ignored.
func (b *BodySize) Add(length int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasCalculated {
		return
	}
	b.collected = append(b.collected, float64(length))
	if len(b.collected) >= bodySizeSampleCap {
		mean, stdev := meanStdev(b.collected)
		b.calculatedLimit = int(mean + 5*stdev)
		b.hasCalculated = true
	}
}

func meanStdev(xs []float64) (mean, stdev float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / (n - 1))
}

// IgnoreLargeBody caps how much of a response body the transport reads: a
// Content-Length-informed limit when the header is present and parseable,
// else a post-read truncation once the actual size is known.
type IgnoreLargeBody struct {
	data *BodySize
}

// NewIgnoreLargeBody builds an IgnoreLargeBody with the given initial
// limit (1 MiB if <= 0).
func NewIgnoreLargeBody(initialLimit int) *IgnoreLargeBody {
	return &IgnoreLargeBody{data: NewBodySize(initialLimit)}
}

func (r *IgnoreLargeBody) SetKB(k kb.KnowledgeBase) error {
	return k.Set("body_size", r.data)
}

func (r *IgnoreLargeBody) LoadKB(k kb.KnowledgeBase) error {
	v, err := k.Get("body_size")
	if err != nil {
		return err
	}
	data, ok := v.(*BodySize)
	if !ok {
		return fmt.Errorf("kb: body_size has unexpected type %T", v)
	}
	r.data = data
	return nil
}

func (r *IgnoreLargeBody) AfterHeaders(ctx context.Context, entry *engine.Entry) error {
	entry.Result.ReadLength = r.readLimit(entry.Response)
	return nil
}

func (r *IgnoreLargeBody) readLimit(resp *engine.Response) int {
	if raw, ok := resp.Headers["Content-Length"]; ok {
		if length, err := strconv.Atoi(raw); err == nil {
			r.data.Add(length)
			return r.data.ApplicableLimit()
		}
	}
	if limit, ok := r.data.CalculatedLimit(); ok {
		return limit
	}
	return -1
}

func (r *IgnoreLargeBody) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	if entry.Result.ReadLength != -1 {
		return nil
	}
	// Content-Length was absent or unparseable: only now, with the full
	// body in hand, do we know the actual length to feed the model and
	// (if over limit) truncate after the fact.
	fullLength := len(entry.Response.Raw)
	limit := r.data.ApplicableLimit()
	r.data.Add(fullLength)

	if fullLength > limit {
		entry.Response.Raw = entry.Response.Raw[:limit]
		entry.Response.Truncated = true
		entry.Result.ReadLength = limit
	}
	return nil
}
