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

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

// RejectStatusCode rejects any response whose status code is in a
// caller-supplied set.
type RejectStatusCode struct {
	codes map[int]struct{}
}

// NewRejectStatusCode builds a RejectStatusCode rejecting every code
// listed across the given sets.
func NewRejectStatusCode(codeSets ...[]int) *RejectStatusCode {
	r := &RejectStatusCode{codes: map[int]struct{}{}}
	for _, set := range codeSets {
		for _, c := range set {
			r.codes[c] = struct{}{}
		}
	}
	return r
}

func (r *RejectStatusCode) AfterHeaders(ctx context.Context, entry *engine.Entry) error {
	if _, ok := r.codes[entry.Response.Code]; ok {
		return hterrors.NewRejectRequestf("status code reject: %d", entry.Response.Code)
	}
	return nil
}

// ClientErrorCodes and ServerErrorCodes are convenience code sets matching
// the 4xx/5xx ranges, handy as arguments to NewRejectStatusCode.
func ClientErrorCodes() []int {
	codes := make([]int, 0, 100)
	for c := 400; c < 500; c++ {
		codes = append(codes, c)
	}
	return codes
}

func ServerErrorCodes() []int {
	codes := make([]int, 0, 100)
	for c := 500; c < 600; c++ {
		codes = append(codes, c)
	}
	return codes
}
