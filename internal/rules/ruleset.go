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

// Package rules implements the heuristic pipeline: an ordered RuleSet per
// lifecycle event, the wiring that probes each registered Rule for the
// capabilities it supports, and the individual rules themselves (status
// filtering, WAF detection, body cutoff, dead-host detection, dynamic
// timeout, redirect following, soft-404 detection, behavior-change
// detection).
package rules

import (
	"context"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
	"hammertime/internal/kb"
)

// Rule is the minimal unit Heuristics registers. A concrete rule
// implements whichever of the event interfaces below it needs; Heuristics
// probes with one type assertion per event (and per capability).
type Rule interface{}

// The six lifecycle event interfaces a Rule may implement. A rule
// implementing none of them is rejected by Add.
type (
	BeforeRequestRule interface {
		BeforeRequest(ctx context.Context, entry *engine.Entry) error
	}
	AfterHeadersRule interface {
		AfterHeaders(ctx context.Context, entry *engine.Entry) error
	}
	AfterResponseRule interface {
		AfterResponse(ctx context.Context, entry *engine.Entry) error
	}
	OnRequestSuccessfulRule interface {
		OnRequestSuccessful(ctx context.Context, entry *engine.Entry) error
	}
	OnTimeoutRule interface {
		OnTimeout(ctx context.Context, entry *engine.Entry)
	}
	OnHostUnreachableRule interface {
		OnHostUnreachable(ctx context.Context, entry *engine.Entry)
	}
)

// The optional capability-wiring interfaces. A rule implementing
// EngineAware, KBAware, or ChildHeuristicsAware is handed the
// corresponding collaborator at registration time.
type (
	EngineAware interface {
		SetEngine(e engine.Engine)
	}
	KBAware interface {
		SetKB(k kb.KnowledgeBase) error
		LoadKB(k kb.KnowledgeBase) error
	}
	ChildHeuristicsAware interface {
		SetChildHeuristics(child *Heuristics)
	}
)

// ruleSet runs its rules sequentially, in insertion order, for one event.
type ruleSet[F any] struct {
	rules []F
}

func (rs *ruleSet[F]) add(f F) { rs.rules = append(rs.rules, f) }

// Heuristics implements engine.Heuristics: six ordered rule sets, one per
// lifecycle event, plus the capability wiring that hands each registered
// rule its collaborators.
type Heuristics struct {
	requestEngine engine.Engine
	kb            kb.KnowledgeBase

	beforeRequest       ruleSet[BeforeRequestRule]
	afterHeaders        ruleSet[AfterHeadersRule]
	afterResponse       ruleSet[AfterResponseRule]
	onRequestSuccessful ruleSet[OnRequestSuccessfulRule]
	onTimeout           ruleSet[OnTimeoutRule]
	onHostUnreachable   ruleSet[OnHostUnreachableRule]
}

// New returns an empty Heuristics pipeline.
func New() *Heuristics {
	return &Heuristics{}
}

// AddMultiple registers every rule in rules, in order.
func (h *Heuristics) AddMultiple(rules ...Rule) error {
	for _, r := range rules {
		if err := h.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Add registers rule against every event interface and capability
// interface it implements. It fails if rule implements none of the six
// event interfaces.
func (h *Heuristics) Add(rule Rule) error {
	applied := false

	if r, ok := rule.(BeforeRequestRule); ok {
		h.beforeRequest.add(r)
		applied = true
	}
	if r, ok := rule.(AfterHeadersRule); ok {
		h.afterHeaders.add(r)
		applied = true
	}
	if r, ok := rule.(AfterResponseRule); ok {
		h.afterResponse.add(r)
		applied = true
	}
	if r, ok := rule.(OnRequestSuccessfulRule); ok {
		h.onRequestSuccessful.add(r)
		applied = true
	}
	if r, ok := rule.(OnTimeoutRule); ok {
		h.onTimeout.add(r)
		applied = true
	}
	if r, ok := rule.(OnHostUnreachableRule); ok {
		h.onHostUnreachable.add(r)
		applied = true
	}

	if !applied {
		return hterrors.NewRejectRequestf("rule %T implements none of the heuristic event interfaces", rule)
	}

	if aware, ok := rule.(EngineAware); ok && h.requestEngine != nil {
		aware.SetEngine(h.requestEngine)
	}
	if aware, ok := rule.(KBAware); ok && h.kb != nil {
		h.wireKB(aware)
	}
	if aware, ok := rule.(ChildHeuristicsAware); ok {
		aware.SetChildHeuristics(h.child())
	}

	return nil
}

// wireKB implements the "set_kb, else load_kb" handshake: the first rule
// to publish a key owns it; every later rule for the same key instead
// adopts the already-published value.
func (h *Heuristics) wireKB(aware KBAware) {
	if err := aware.SetKB(h.kb); err != nil {
		_ = aware.LoadKB(h.kb)
	}
}

// child builds a fresh pipeline sharing this Heuristics' engine and KB,
// for rules (redirect following, soft-404 sampling) that issue sub-requests
// through their own heuristic chain.
func (h *Heuristics) child() *Heuristics {
	return &Heuristics{requestEngine: h.requestEngine, kb: h.kb}
}

// SetEngine and SetKB let the owning facade wire collaborators into the
// pipeline before any rules are added (rules added afterward are wired
// immediately by Add; rules added before need no retrofit since
// HammerTime always configures engine/kb before building the ruleset).
func (h *Heuristics) SetEngine(e engine.Engine) { h.requestEngine = e }
func (h *Heuristics) SetKB(k kb.KnowledgeBase)  { h.kb = k }

func (h *Heuristics) BeforeRequest(ctx context.Context, entry *engine.Entry) error {
	for _, r := range h.beforeRequest.rules {
		if err := r.BeforeRequest(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heuristics) AfterHeaders(ctx context.Context, entry *engine.Entry) error {
	for _, r := range h.afterHeaders.rules {
		if err := r.AfterHeaders(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heuristics) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	for _, r := range h.afterResponse.rules {
		if err := r.AfterResponse(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heuristics) OnRequestSuccessful(ctx context.Context, entry *engine.Entry) error {
	for _, r := range h.onRequestSuccessful.rules {
		if err := r.OnRequestSuccessful(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (h *Heuristics) OnTimeout(ctx context.Context, entry *engine.Entry) {
	for _, r := range h.onTimeout.rules {
		r.OnTimeout(ctx, entry)
	}
}

func (h *Heuristics) OnHostUnreachable(ctx context.Context, entry *engine.Entry) {
	for _, r := range h.onHostUnreachable.rules {
		r.OnHostUnreachable(ctx, entry)
	}
}
