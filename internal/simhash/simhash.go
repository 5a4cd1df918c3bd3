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

// Package simhash implements a locality-sensitive content fingerprint:
// Compute(data) -> fingerprint plus a Hamming-distance comparison. The
// content is lowercased, filtered to word characters, shingled, each
// shingle hashed with xxhash, and the per-bit votes folded by majority
// into one 64-bit value.
package simhash

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// tokenSize is the shingle width: the filtered content is shingled into
// overlapping runs of 4 characters.
const tokenSize = 4

// Compute returns the 64-bit simhash fingerprint of data. Distance between
// two fingerprints approximates the textual similarity of the documents
// they were computed from: small distance means similar content.
func Compute(data string) uint64 {
	filtered := filter(data)
	grams := shingles(filtered, tokenSize)
	if len(grams) == 0 {
		return 0
	}

	var weights [64]int
	for _, g := range grams {
		h := xxhash.Sum64String(g)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance (number of differing bits) between
// two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// filter lowercases data and keeps only word characters (letters, digits,
// underscore) plus '<'/'>' so HTML tag structure still contributes to the
// fingerprint.
func filter(data string) string {
	lower := strings.ToLower(data)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '<' || r == '>' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// shingles slides a window of size size over s (rune-wise), returning every
// overlapping substring. A string shorter than size yields itself as the
// sole shingle instead of nothing, so very short documents still hash to a
// non-zero fingerprint.
func shingles(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < size {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-size+1)
	for i := 0; i+size <= len(runes); i++ {
		out = append(out, string(runes[i:i+size]))
	}
	return out
}
