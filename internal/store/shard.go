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

package store

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"
)

// Shards picks a stable shard index for an arbitrary key using rendezvous
// (highest random weight) hashing. The soft-404 detector uses it to spread
// its per-origin sample flights across n buckets so one hot origin doesn't
// serialize every other origin's bookkeeping.
type Shards struct {
	r *rendezvous.Rendezvous
	n int
}

// NewShards builds a Shards selector over n numbered buckets ("0".."n-1").
func NewShards(n int) *Shards {
	if n < 1 {
		n = 1
	}
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return &Shards{
		r: rendezvous.New(names, xxhash.Sum64String),
		n: n,
	}
}

// Index returns the shard index assigned to key, stable for the lifetime of
// the Shards value.
func (s *Shards) Index(key string) int {
	if s.n == 1 {
		return 0
	}
	name := s.r.Lookup(key)
	idx, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return idx
}
