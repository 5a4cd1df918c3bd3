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

package engine

import "context"

// Heuristics is the lifecycle hook surface the transport and the retry
// engine call into. The concrete implementation (an ordered set of rules)
// lives in the rules package, which imports engine for Entry/Request/
// Response/Result; defining the interface here instead of importing rules
// keeps the dependency pointed one way.
type Heuristics interface {
	BeforeRequest(ctx context.Context, entry *Entry) error
	AfterHeaders(ctx context.Context, entry *Entry) error
	AfterResponse(ctx context.Context, entry *Entry) error
	OnRequestSuccessful(ctx context.Context, entry *Entry) error
	OnTimeout(ctx context.Context, entry *Entry)
	OnHostUnreachable(ctx context.Context, entry *Entry)
}

// RequestEngine performs exactly one attempt of one Entry: it calls
// heuristics.BeforeRequest, dispatches the HTTP call, calls AfterHeaders
// and AfterResponse at the appropriate points, and returns either the
// updated Entry or a *hterrors.StopRequest / *hterrors.RejectRequest. The
// concrete implementation lives in the transport package; engine only
// depends on this narrow contract.
type RequestEngine interface {
	Perform(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error)
	Close() error
	SetProxy(proxy string)
}

// Engine is the capability surface the retry engine exposes to rules that
// implement EngineAware (see the rules package): both admission lanes, plus
// the configured retry budget the dynamic-timeout rule needs to recognize a
// last attempt. *RetryEngine is the only implementation; the interface
// keeps rules from depending on RetryEngine's concrete type.
type Engine interface {
	Perform(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error)
	PerformHighPriority(ctx context.Context, entry *Entry, heuristics Heuristics) (*Entry, error)
	RetryCount() int
	SetProxy(proxy string)
}
