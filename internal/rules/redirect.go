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
	"fmt"
	"math/rand"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
	"hammertime/internal/kb"
)

func isRedirectCode(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// resolveRedirect resolves a Location header value against the request it
// was returned for, the same way net/http's own redirect handling would,
// since HTTPEngine hands redirect responses back to the pipeline instead of
// following them itself (see transport.HTTPEngine's CheckRedirect).
func resolveRedirect(requestURL, location string) (string, error) {
	base, err := url.Parse(requestURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// FollowRedirects walks a 3xx response's Location chain: each hop is a
// full engine sub-request (through the child heuristics pipeline, on the
// high-priority lane so a redirect chain never waits behind the general
// backlog) rather than a bare fetch. The child pipeline starts with no
// rules of its own, so the parent pipeline's rules (sampling, soft-404,
// dead-host bookkeeping, ...) do not run on the hops. It runs on
// OnRequestSuccessful, after all retries have resolved, so a chain is only
// ever followed from a settled response. The full chain, original entry
// first and final hop last, is preserved on entry.Result.Redirects.
type FollowRedirects struct {
	requestEngine   engine.Engine
	childHeuristics *Heuristics
	maxRedirects    int
}

// NewFollowRedirects builds a FollowRedirects bounded to maxRedirects hops
// (10 if <= 0, matching common browser practice).
func NewFollowRedirects(maxRedirects int) *FollowRedirects {
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	return &FollowRedirects{maxRedirects: maxRedirects}
}

func (r *FollowRedirects) SetEngine(e engine.Engine)            { r.requestEngine = e }
func (r *FollowRedirects) SetChildHeuristics(child *Heuristics) { r.childHeuristics = child }

func (r *FollowRedirects) OnRequestSuccessful(ctx context.Context, entry *engine.Entry) error {
	if r.requestEngine == nil || r.childHeuristics == nil {
		return nil
	}

	current := entry
	for hops := 0; current.Response != nil && isRedirectCode(current.Response.Code); hops++ {
		if hops >= r.maxRedirects {
			return hterrors.NewRejectRequestf("more than %d redirects", r.maxRedirects)
		}

		location := current.Response.Headers["Location"]
		if location == "" {
			return hterrors.NewRejectRequest("redirect without Location header")
		}
		target, err := resolveRedirect(current.Request.URL, location)
		if err != nil {
			return hterrors.NewRejectRequestf("unresolvable redirect location %q", location)
		}

		entry.Result.Redirects = append(entry.Result.Redirects, current.Clone())

		next := engine.NewEntry(engine.NewRequest(target))
		result, err := r.requestEngine.PerformHighPriority(ctx, next, r.childHeuristics)
		if err != nil {
			return err
		}
		current = result
	}

	if current != entry {
		// The terminal hop belongs to the chain too.
		entry.Result.Redirects = append(entry.Result.Redirects, current.Clone())
		entry.Response = current.Response
		entry.Result.ContentHash = current.Result.ContentHash
		entry.Result.ContentSimhash = current.Result.ContentSimhash
		entry.Result.HasSimhash = current.Result.HasSimhash
		entry.Result.ContentSample = current.Result.ContentSample
		entry.Result.Soft404 = current.Result.Soft404
		entry.Result.ErrorBehavior = current.Result.ErrorBehavior
	}
	return nil
}

// catchAllCache remembers, per directory, the marked default redirect
// target a probe discovered ("" when the probe found the directory does
// not redirect unknown paths). Presence of a key means the directory has
// already been probed.
type catchAllCache struct {
	mu       sync.Mutex
	defaults map[string]string
}

// directoryKey collapses a URL to "origin + parent directory", the unit
// RejectCatchAllRedirect reasons about: a whole directory redirecting every
// unknown path to the same place (a CMS's catch-all "page moved" handler,
// for instance) rather than one specific broken link.
func directoryKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + path.Dir(u.Path)
}

// siblingPath builds a plausible-but-almost-certainly-nonexistent path in
// the same directory as rawURL, used to probe whether a directory redirects
// everything indiscriminately.
func siblingPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	probe := *u
	probe.Path = path.Join(path.Dir(u.Path), "ht-"+strconv.FormatUint(rand.Uint64(), 36))
	return probe.String()
}

// pathMarker replaces the requested path inside a redirect target before
// comparison, so a catch-all whose destination is templated on the
// requested URL ("/dir/x" -> "/moved?from=/dir/x") still compares equal to
// the probe's destination.
const pathMarker = "{path}"

func markedTarget(requestURL, target string) string {
	u, err := url.Parse(requestURL)
	if err != nil || u.Path == "" {
		return target
	}
	return strings.ReplaceAll(target, u.Path, pathMarker)
}

// RejectCatchAllRedirect rejects redirects from a directory that redirects
// every path, including ones that were never supposed to exist, to the
// same destination. On the first qualifying redirect seen for a directory
// it spends one high-priority probe on a fabricated sibling path; the
// sibling's redirect destination (with the requested path substituted by a
// marker on both sides) becomes the directory's cached default, and any
// redirect matching that default is rejected. It runs at AfterHeaders,
// before the body is read and before FollowRedirects ever spends
// sub-requests on the chain.
type RejectCatchAllRedirect struct {
	requestEngine   engine.Engine
	childHeuristics *Heuristics
	cache           *catchAllCache
}

// NewRejectCatchAllRedirect builds a RejectCatchAllRedirect with a fresh
// cache; wiring it to a shared KB makes multiple pipelines agree on which
// directories have already been probed.
func NewRejectCatchAllRedirect() *RejectCatchAllRedirect {
	return &RejectCatchAllRedirect{
		cache: &catchAllCache{defaults: map[string]string{}},
	}
}

func (r *RejectCatchAllRedirect) SetEngine(e engine.Engine)            { r.requestEngine = e }
func (r *RejectCatchAllRedirect) SetChildHeuristics(child *Heuristics) { r.childHeuristics = child }

func (r *RejectCatchAllRedirect) SetKB(k kb.KnowledgeBase) error {
	return k.Set("catchall_redirects", r.cache)
}

func (r *RejectCatchAllRedirect) LoadKB(k kb.KnowledgeBase) error {
	v, err := k.Get("catchall_redirects")
	if err != nil {
		return err
	}
	cache, ok := v.(*catchAllCache)
	if !ok {
		return fmt.Errorf("kb: catchall_redirects has unexpected type %T", v)
	}
	r.cache = cache
	return nil
}

func (r *RejectCatchAllRedirect) AfterHeaders(ctx context.Context, entry *engine.Entry) error {
	if entry.Response == nil || !isRedirectCode(entry.Response.Code) {
		return nil
	}
	location := entry.Response.Headers["Location"]
	if location == "" {
		return nil
	}
	target, err := resolveRedirect(entry.Request.URL, location)
	if err != nil {
		return nil
	}

	dirKey := directoryKey(entry.Request.URL)

	r.cache.mu.Lock()
	def, probed := r.cache.defaults[dirKey]
	r.cache.mu.Unlock()

	if !probed {
		def = r.probeDefault(ctx, entry.Request.URL)
		r.cache.mu.Lock()
		if cached, ok := r.cache.defaults[dirKey]; ok {
			// A concurrent probe won the race; trust its answer.
			def = cached
		} else {
			r.cache.defaults[dirKey] = def
		}
		r.cache.mu.Unlock()
	}

	if def != "" && markedTarget(entry.Request.URL, target) == def {
		return hterrors.NewRejectRequest("catch-all redirect")
	}
	return nil
}

// probeDefault fetches a fabricated sibling path in the same directory as
// rawURL and returns its marked redirect destination, or "" when the
// sibling does not redirect (the directory has no catch-all).
func (r *RejectCatchAllRedirect) probeDefault(ctx context.Context, rawURL string) string {
	if r.requestEngine == nil || r.childHeuristics == nil {
		return ""
	}
	probeURL := siblingPath(rawURL)
	probeEntry := engine.NewEntry(engine.NewRequest(probeURL))

	result, err := r.requestEngine.PerformHighPriority(ctx, probeEntry, r.childHeuristics)
	if err != nil || result.Response == nil || !isRedirectCode(result.Response.Code) {
		return ""
	}
	probeTarget, err := resolveRedirect(probeURL, result.Response.Headers["Location"])
	if err != nil {
		return ""
	}
	return markedTarget(probeURL, probeTarget)
}
