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

package simhash

import (
	"strings"
	"testing"
)

func TestCompute(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		doc := "<html><body>Welcome to the example page</body></html>"
		if Compute(doc) != Compute(doc) {
			t.Error("same document produced different fingerprints")
		}
	})

	t.Run("CaseAndPunctuationInsensitive", func(t *testing.T) {
		a := Compute("Hello, World! This is a test page.")
		b := Compute("hello world this is a test page")
		if Distance(a, b) != 0 {
			t.Errorf("Distance = %d, want 0 (filtering should normalize case and punctuation)", Distance(a, b))
		}
	})

	t.Run("SimilarDocumentsAreClose", func(t *testing.T) {
		base := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
		similar := base + "one extra sentence at the end"
		different := strings.Repeat("completely unrelated content about databases ", 50)

		near := Distance(Compute(base), Compute(similar))
		far := Distance(Compute(base), Compute(different))
		if near >= far {
			t.Errorf("near=%d far=%d: similar documents should be closer than unrelated ones", near, far)
		}
		if near > 5 {
			t.Errorf("near=%d: a one-sentence change in a long document should stay within the match threshold", near)
		}
	})

	t.Run("EmptyAndShort", func(t *testing.T) {
		if Compute("") != 0 {
			t.Error("empty document should fingerprint to 0")
		}
		if Compute("ab") == 0 {
			t.Error("a short document should still fingerprint to a non-zero value")
		}
	})
}

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, ^uint64(0), 64},
		{0b1010, 0b0101, 4},
	}
	for _, tc := range cases {
		if got := Distance(tc.a, tc.b); got != tc.want {
			t.Errorf("Distance(%b, %b) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if got := Distance(tc.b, tc.a); got != tc.want {
			t.Errorf("Distance is not symmetric for (%b, %b)", tc.a, tc.b)
		}
	}
}
