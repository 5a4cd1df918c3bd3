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

package kb

import (
	"errors"
	"sync"
	"testing"
)

// TestMemory_BindOnce validates the core contract: the first Set for a key
// wins, every later Set fails with ErrAlreadyBound, and Get before any Set
// fails with ErrUnbound.
func TestMemory_BindOnce(t *testing.T) {
	t.Run("SetThenGet", func(t *testing.T) {
		m := New()
		if err := m.Set("k", 42); err != nil {
			t.Fatalf("first Set: %v", err)
		}
		v, err := m.Get("k")
		if err != nil {
			t.Fatalf("Get after Set: %v", err)
		}
		if v.(int) != 42 {
			t.Errorf("Get = %v, want 42", v)
		}
	})

	t.Run("SecondSetFails", func(t *testing.T) {
		m := New()
		if err := m.Set("k", 1); err != nil {
			t.Fatalf("first Set: %v", err)
		}
		err := m.Set("k", 2)
		var bound *ErrAlreadyBound
		if !errors.As(err, &bound) {
			t.Fatalf("second Set = %v, want ErrAlreadyBound", err)
		}
		if v, _ := m.Get("k"); v.(int) != 1 {
			t.Errorf("value after failed rebind = %v, want 1 (first write wins)", v)
		}
	})

	t.Run("GetUnbound", func(t *testing.T) {
		m := New()
		_, err := m.Get("missing")
		var unbound *ErrUnbound
		if !errors.As(err, &unbound) {
			t.Fatalf("Get = %v, want ErrUnbound", err)
		}
	})

	t.Run("Contains", func(t *testing.T) {
		m := New()
		if m.Contains("k") {
			t.Error("Contains before Set = true, want false")
		}
		m.Set("k", nil)
		if !m.Contains("k") {
			t.Error("Contains after Set = false, want true")
		}
	})
}

// TestMemory_ConcurrentBind races many goroutines binding the same key;
// exactly one must win and every loser must be able to read the winner's
// value.
func TestMemory_ConcurrentBind(t *testing.T) {
	m := New()
	const workers = 32

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := m.Set("shared", id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
			if _, err := m.Get("shared"); err != nil {
				t.Errorf("worker %d: Get after race: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful binds = %d, want exactly 1", wins)
	}
}
