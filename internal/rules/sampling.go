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
	"crypto/md5"

	"hammertime/internal/engine"
	"hammertime/internal/signature"
	"hammertime/internal/simhash"
)

// ContentHashSampling populates entry.Result.ContentHash with the raw MD5
// of the response body.
type ContentHashSampling struct{}

func (ContentHashSampling) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	sum := md5.Sum(entry.Response.Raw)
	entry.Result.ContentHash = sum[:]
	return nil
}

// ContentSimhashSampling populates entry.Result.ContentSimhash, the
// fingerprint the soft-404 and behavior-change detectors compare by
// Hamming distance.
type ContentSimhashSampling struct{}

func (ContentSimhashSampling) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	entry.Result.ContentSimhash = simhash.Compute(string(entry.Response.Raw))
	entry.Result.HasSimhash = true
	return nil
}

// ContentSampleSampling populates entry.Result.ContentSample with the
// first signature.SampleLength bytes of the response body, for the
// Ratcliff-Obershelp sequence-ratio comparison.
type ContentSampleSampling struct{}

func (ContentSampleSampling) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	raw := entry.Response.Raw
	if len(raw) > signature.SampleLength {
		raw = raw[:signature.SampleLength]
	}
	sample := make([]byte, len(raw))
	copy(sample, raw)
	entry.Result.ContentSample = sample
	return nil
}

// entrySignature builds a ContentSignature from an already-populated entry,
// used by the soft-404 detector to compare a live response against cached
// samples without recomputing hashes the sampling rules already store on
// the Result. An entry that never went through the sampling rules (probe
// sub-requests run a bare child pipeline) gets its signature computed from
// the raw response instead.
func entrySignature(entry *engine.Entry) signature.ContentSignature {
	if entry.Result.ContentHash == nil {
		return signature.From(entry.Response.Code, entry.Response.Raw)
	}
	return signature.ContentSignature{
		StatusCode:  entry.Response.Code,
		ContentHash: entry.Result.ContentHash,
		Simhash:     entry.Result.ContentSimhash,
		HasSimhash:  entry.Result.HasSimhash,
		Sample:      signature.Neutralize(entry.Result.ContentSample),
	}
}
