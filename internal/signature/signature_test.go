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

import (
	"bytes"
	"strings"
	"testing"
)

// TestMatches_HashEquality validates the strongest signal: identical
// (code, raw body) pairs always match, and the match is symmetric.
func TestMatches_HashEquality(t *testing.T) {
	body := []byte("<html>not found, sorry</html>")
	a := From(200, body)
	b := From(200, append([]byte(nil), body...))

	if !a.Matches(b) || !b.Matches(a) {
		t.Error("identical bodies should match symmetrically")
	}
	if !bytes.Equal(a.ContentHash, b.ContentHash) {
		t.Error("identical bodies produced different content hashes")
	}
}

func TestMatches_StatusCodeGate(t *testing.T) {
	body := []byte("same body")
	a := From(200, body)
	b := From(404, body)
	if a.Matches(b) {
		t.Error("different status codes must never match, even with identical bodies")
	}
}

// TestMatches_Simhash checks that two structurally similar pages match via
// the fingerprint even when their hashes differ.
func TestMatches_Simhash(t *testing.T) {
	page := strings.Repeat("<tr><td>item</td><td>description of the item</td></tr>", 100)
	a := From(200, []byte(page+"<p>footer A</p>"))
	b := From(200, []byte(page+"<p>footer B</p>"))

	if bytes.Equal(a.ContentHash, b.ContentHash) {
		t.Fatal("test premise broken: bodies should differ")
	}
	if !a.Matches(b) {
		t.Error("near-identical pages should match via simhash distance")
	}
}

// TestMatches_SampleRatio drives the last-resort comparison: kill the hash
// and simhash signals and leave only the sample.
func TestMatches_SampleRatio(t *testing.T) {
	long := strings.Repeat("this page does not exist on our server ", 40)
	a := ContentSignature{StatusCode: 200, Sample: Neutralize([]byte(long + "tail one"))}
	b := ContentSignature{StatusCode: 200, Sample: Neutralize([]byte(long + "tail two"))}
	c := ContentSignature{StatusCode: 200, Sample: Neutralize([]byte(strings.Repeat("entirely different content here ", 40)))}

	if !a.Matches(b) {
		t.Error("samples with >0.8 overlap should match")
	}
	if a.Matches(c) {
		t.Error("dissimilar samples should not match")
	}
}

// TestNeutralize verifies origin-varying numeric runs collapse to a fixed
// marker so per-request identifiers don't defeat the sample comparison.
func TestNeutralize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"request id 1234567 not found", "request id # not found"},
		{"v2 build 42", "v2 build 42"}, // short runs survive
		{"a111b222333c", "a#b#c"},
	}
	for _, tc := range cases {
		if got := string(Neutralize([]byte(tc.in))); got != tc.want {
			t.Errorf("Neutralize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSequenceRatio(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"Identical", "abcdef", "abcdef", 1.0},
		{"Disjoint", "aaaa", "bbbb", 0.0},
		{"BothEmpty", "", "", 1.0},
		{"OneEmpty", "abc", "", 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sequenceRatio([]byte(tc.a), []byte(tc.b))
			if got != tc.want {
				t.Errorf("sequenceRatio(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}

	t.Run("PartialOverlap", func(t *testing.T) {
		// "abcd" vs "bcde": longest match "bcd" (3), ratio = 2*3/8.
		got := sequenceRatio([]byte("abcd"), []byte("bcde"))
		if got != 0.75 {
			t.Errorf("sequenceRatio = %v, want 0.75", got)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		a, b := []byte("the quick brown fox"), []byte("the quiet brown cat")
		if sequenceRatio(a, b) != sequenceRatio(b, a) {
			t.Error("sequenceRatio is not symmetric")
		}
	})
}
