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

package signature

// sequenceRatio computes the Ratcliff-Obershelp similarity ratio between a
// and b: 2*M / (len(a)+len(b)), where M is the total length of all
// recursively-found longest matching blocks.
func sequenceRatio(a, b []byte) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	matched := matchingBlockLength(a, b)
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchingBlockLength recursively sums the length of the longest matching
// block between a and b, then the longest matching blocks in the unmatched
// prefix and suffix on either side of it.
func matchingBlockLength(a, b []byte) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingBlockLength(a[:ai], b[:bi]) + matchingBlockLength(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest contiguous run shared by a and b, using a
// positions-index plus rolling run length: O(len(a) * avg occurrences of
// each byte in b), which for byte-valued alphabets stays close to
// O(len(a)+len(b)) in practice.
func longestMatch(a, b []byte) (ai, bi, size int) {
	positions := make(map[byte][]int, 256)
	for j, c := range b {
		positions[c] = append(positions[c], j)
	}

	runLength := map[int]int{}
	for i, c := range a {
		next := make(map[int]int, len(runLength)+1)
		for _, j := range positions[c] {
			k := runLength[j-1] + 1
			next[j] = k
			if k > size {
				size = k
				ai = i - k + 1
				bi = j - k + 1
			}
		}
		runLength = next
	}
	return
}
