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

// Package kb implements the bind-once Knowledge Base shared across
// heuristics: the first heuristic to publish a key wins, every later writer
// must instead adopt the published value via Get. Reading an unbound key is
// an error, just like writing an already-bound one.
package kb

import (
	"fmt"
	"sync"
)

// KnowledgeBase is the capability surface rules are wired against. A single
// process normally uses the in-memory implementation (New); RedisKB is an
// alternative backend for the case in §6 where independent HammerTime
// instances (in different processes) need to agree on shared state, such as
// a dead-host blacklist.
type KnowledgeBase interface {
	Contains(key string) bool
	Set(key string, value interface{}) error
	Get(key string) (interface{}, error)
}

// ErrAlreadyBound is returned by Set when the key has already been
// published by another heuristic.
type ErrAlreadyBound struct{ Key string }

func (e *ErrAlreadyBound) Error() string { return fmt.Sprintf("kb: key %q is already bound", e.Key) }

// ErrUnbound is returned by Get when no heuristic has published the key
// yet.
type ErrUnbound struct{ Key string }

func (e *ErrUnbound) Error() string { return fmt.Sprintf("kb: key %q is not bound", e.Key) }

// Memory is the default, process-local KnowledgeBase. Binding is a single
// lock-protected check-and-set per key so concurrent heuristics racing to
// initialize the same key never corrupt each other's state: the loser
// simply re-reads what the winner published.
type Memory struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

// New returns an empty, ready to use in-memory KnowledgeBase.
func New() *Memory {
	return &Memory{entries: map[string]interface{}{}}
}

// Contains reports whether key has been bound.
func (m *Memory) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Set publishes key the first time it is called for that key; any later
// call for the same key fails with ErrAlreadyBound so the caller knows to
// adopt the existing value via Get instead.
func (m *Memory) Set(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return &ErrAlreadyBound{Key: key}
	}
	m.entries[key] = value
	return nil
}

// Get returns the bound value for key, or ErrUnbound if nothing has
// published it yet.
func (m *Memory) Get(key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, &ErrUnbound{Key: key}
	}
	return v, nil
}
