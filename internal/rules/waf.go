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
	"bytes"
	"context"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

// RejectBlockPage rejects any response whose raw body contains one of a
// caller-supplied set of known WAF/IPS block-page markers: some WAFs
// return a 200 with a unique per-request identifier embedded in the block
// page, which defeats
// both status-code filtering and the behavior-change detector's simhash
// comparison, so a literal substring match is the only reliable signal.
type RejectBlockPage struct {
	markers [][]byte
}

// NewRejectBlockPage builds a RejectBlockPage matching any of markers.
func NewRejectBlockPage(markers ...string) *RejectBlockPage {
	r := &RejectBlockPage{markers: make([][]byte, len(markers))}
	for i, m := range markers {
		r.markers[i] = []byte(m)
	}
	return r
}

func (r *RejectBlockPage) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	for _, marker := range r.markers {
		if bytes.Contains(entry.Response.Raw, marker) {
			return hterrors.NewRejectRequest("WAF block page detected")
		}
	}
	return nil
}
