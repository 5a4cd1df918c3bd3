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

// Package signature implements ContentSignature and the four-way match
// test soft-404 and behavior-change detection both rely on: status-code
// equality, raw-content MD5 equality, simhash Hamming distance, and a
// Ratcliff-Obershelp sample-sequence ratio.
package signature

import (
	"bytes"
	"crypto/md5"
	"regexp"

	"hammertime/internal/simhash"
)

// SampleLength is the maximum number of content bytes retained for the
// sequence-ratio comparison.
const SampleLength = 5120

// DistanceThreshold is the default simhash Hamming-distance cutoff below
// which two signatures are considered a match.
const DistanceThreshold = 5

// RatioThreshold is the minimum Ratcliff-Obershelp sequence ratio, over the
// first SampleLength bytes of each sample, for a match.
const RatioThreshold = 0.8

// ContentSignature captures enough of a response to recognize "this is the
// same canned page" without keeping the full body around.
type ContentSignature struct {
	StatusCode  int
	ContentHash []byte // raw MD5, nil if not computed
	Simhash     uint64
	HasSimhash  bool
	Sample      []byte // first SampleLength bytes, neutralized
}

// From builds a ContentSignature from a response's status code and raw
// body. All three content signals (hash, simhash, sample) are computed
// unconditionally; callers that only need one (e.g. the plain
// content-hash-sampling rule) can ignore the rest.
func From(statusCode int, raw []byte) ContentSignature {
	sample := raw
	if len(sample) > SampleLength {
		sample = sample[:SampleLength]
	}
	sum := md5.Sum(raw)
	return ContentSignature{
		StatusCode:  statusCode,
		ContentHash: sum[:],
		Simhash:     simhash.Compute(string(raw)),
		HasSimhash:  true,
		Sample:      neutralize(sample),
	}
}

// Matches reports whether sig and other describe responses a human would
// call "the same page", trying each of the four tests in order and
// returning true on the first that passes. A status-code mismatch
// short-circuits everything else.
func (sig ContentSignature) Matches(other ContentSignature) bool {
	if sig.StatusCode != other.StatusCode {
		return false
	}
	if sig.ContentHash != nil && other.ContentHash != nil && bytes.Equal(sig.ContentHash, other.ContentHash) {
		return true
	}
	if sig.HasSimhash && other.HasSimhash && simhash.Distance(sig.Simhash, other.Simhash) < DistanceThreshold {
		return true
	}
	if len(sig.Sample) > 0 && len(other.Sample) > 0 && sequenceRatio(sig.Sample, other.Sample) > RatioThreshold {
		return true
	}
	return false
}

// numberRun matches runs of 3+ digits, the shape of the origin-varying
// identifiers (CSRF tokens, request IDs, generated random paths) that would
// otherwise make two structurally identical soft-404 pages compare as
// dissimilar.
var numberRun = regexp.MustCompile(`[0-9]{3,}`)

// neutralize substitutes origin-varying numeric runs with a fixed marker
// before sample comparison.
func neutralize(sample []byte) []byte {
	return numberRun.ReplaceAll(sample, []byte("#"))
}

// Neutralize exposes the same substitution for rules that build a sample
// independently of From (the plain content-sample rule populates
// entry.Result.ContentSample directly so other heuristics can read the raw
// prefix; neutralization is applied at comparison time via this helper
// instead of mutating the stored sample).
func Neutralize(sample []byte) []byte { return neutralize(sample) }
