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
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
	"hammertime/internal/kb"
	"hammertime/internal/signature"
	"hammertime/internal/store"
)

// soft404FlightShards spreads the singleflight sampling rounds across this
// many independent groups by pattern, so one busy origin's sampling round
// doesn't serialize singleflight's internal lock against every other
// origin's.
const soft404FlightShards = 16

// The character-class tokens a URL's terminal path component is
// generalized into before being matched against (or recorded in) the
// soft-404 signature cache. A concrete path like "/users/42/Profile.json"
// generalizes to "/users/42/\i.json": every URL sharing that shape is
// assumed to be served by the same handler, so one sampled signature
// covers all of them.
const (
	classLower = `\l` // lowercase letters only
	classUpper = `\L` // uppercase letters only
	classMixed = `\i` // letters, mixed case
	classDigit = `\d` // digits only
	classWord  = `\w` // mixed word characters
)

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

// classifyToken maps one run of word characters to its class token.
func classifyToken(tok string) string {
	digits, lower, upper, other := 0, 0, 0, 0
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c >= 'a' && c <= 'z':
			lower++
		case c >= 'A' && c <= 'Z':
			upper++
		default:
			other++
		}
	}
	switch {
	case digits == len(tok):
		return classDigit
	case lower == len(tok):
		return classLower
	case upper == len(tok):
		return classUpper
	case other == 0 && digits == 0:
		return classMixed
	default:
		return classWord
	}
}

// generalizeComponent rewrites one path component into its pattern: the
// extension (for filenames) is preserved literally, and the stem is
// tokenized on non-word boundaries with each word-character run replaced
// by its class token. Separator characters stay literal so "a-b.tar.gz"
// and "x_y.tar.gz" land in different buckets than "ab.tar.gz".
func generalizeComponent(name string) string {
	ext := path.Ext(name)
	if ext == name {
		// A leading dot with nothing before it (".htaccess") is a stem,
		// not an extension.
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)

	var b strings.Builder
	for i := 0; i < len(stem); {
		if !isWordByte(stem[i]) {
			b.WriteByte(stem[i])
			i++
			continue
		}
		j := i
		for j < len(stem) && isWordByte(stem[j]) {
			j++
		}
		b.WriteString(classifyToken(stem[i:j]))
		i = j
	}
	return b.String() + ext
}

// patternForPath collapses a URL path to its pattern: leading directories
// stay literal, only the terminal component (the filename, or the last
// directory for a path ending in "/") is generalized.
func patternForPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		trimmed := strings.TrimSuffix(p, "/")
		dir, last := path.Split(trimmed)
		if last == "" {
			return "/"
		}
		return dir + generalizeComponent(last) + "/"
	}
	dir, file := path.Split(p)
	return dir + generalizeComponent(file)
}

// patternKey identifies a (origin, generalized path) pair, the unit the
// soft-404 signature cache is keyed on.
func patternKey(rawURL string) (key, origin, pattern string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", "", "", false
	}
	origin = u.Scheme + "://" + u.Host
	pattern = patternForPath(u.Path)
	return origin + pattern, origin, pattern, true
}

const randomTokenLength = 8

var (
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars = "0123456789"
)

func randomRun(alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// expandToken generates a random word-character run that classifies back
// to token, so a URL generated from a pattern re-extracts to the same
// pattern.
func expandToken(token string) string {
	switch token {
	case classLower:
		return randomRun(lowerChars, randomTokenLength)
	case classUpper:
		return randomRun(upperChars, randomTokenLength)
	case classMixed:
		return randomRun(upperChars, 1) + randomRun(lowerChars, 1) + randomRun(lowerChars+upperChars, randomTokenLength-2)
	case classDigit:
		return randomRun(digitChars, randomTokenLength)
	case classWord:
		return randomRun(lowerChars, 1) + randomRun(digitChars, 1) + randomRun(lowerChars+digitChars, randomTokenLength-2)
	default:
		return token
	}
}

// RandomURLFromPattern expands every class token in pattern into a random
// run of matching characters, producing a URL that matches the pattern but
// almost certainly names nothing real on the server.
func RandomURLFromPattern(origin, pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteString(expandToken(pattern[i : i+2]))
			i += 2
			continue
		}
		b.WriteByte(pattern[i])
		i++
	}
	return origin + b.String()
}

// candidateKeys lists the already-cached patterns that would also cover
// rawURL: the patterns of each parent directory (a catch-all under /a/
// also answers /a/b/c) and the tail patterns built from each word-prefix
// of the final component ("/login" covering "/loginfoo" and
// "/login.tar.gz" style catch-alls).
func candidateKeys(origin string, u *url.URL) []string {
	var keys []string

	dir, file := path.Split(u.Path)
	for d := strings.TrimSuffix(dir, "/"); d != "" && d != "/" && d != "."; d = path.Dir(d) {
		parent, last := path.Split(d)
		keys = append(keys, origin+parent+generalizeComponent(last)+"/")
	}

	for i := 1; i < len(file); i++ {
		if !isWordByte(file[i-1]) {
			break
		}
		prefix := origin + dir + file[:i]
		keys = append(keys, prefix+classLower, prefix+`.`+classLower)
	}
	return keys
}

// soft404Sample is what DetectSoft404 caches per pattern: the signature a
// sampled non-existent path under that pattern returned, plus how many
// consistent probes agreed on it. votes == 0 records a failed sampling
// round, so a pattern whose probes couldn't agree isn't re-probed on every
// request.
type soft404Sample struct {
	signature signature.ContentSignature
	votes     int
}

const soft404ProbeCount = 3
const soft404MinVotes = 2

// DetectSoft404 recognizes origins that answer requests for a non-existent
// resource with 200 OK and a human-facing "not found" page instead of a
// real 404: once a generalized URL pattern has a cached signature (agreed
// on by a majority of sampled sibling probes), any entry whose own
// signature matches it is flagged Soft404, for RejectSoft404 (or a caller
// inspecting entry.Result.Soft404 directly) to act on.
type DetectSoft404 struct {
	requestEngine   engine.Engine
	childHeuristics *Heuristics

	collectDelay time.Duration
	cache        *lru.Cache[string, soft404Sample]
	shards       *store.Shards
	flights      []singleflight.Group
}

// NewDetectSoft404 builds a DetectSoft404 caching up to cacheSize
// (origin, pattern) signatures.
func NewDetectSoft404(cacheSize int) *DetectSoft404 {
	if cacheSize < 1 {
		cacheSize = 4096
	}
	cache, _ := lru.New[string, soft404Sample](cacheSize)
	return &DetectSoft404{
		collectDelay: 100 * time.Millisecond,
		cache:        cache,
		shards:       store.NewShards(soft404FlightShards),
		flights:      make([]singleflight.Group, soft404FlightShards),
	}
}

func (r *DetectSoft404) SetEngine(e engine.Engine)            { r.requestEngine = e }
func (r *DetectSoft404) SetChildHeuristics(child *Heuristics) { r.childHeuristics = child }

func (r *DetectSoft404) SetKB(k kb.KnowledgeBase) error {
	return k.Set("soft404_cache", r.cache)
}

func (r *DetectSoft404) LoadKB(k kb.KnowledgeBase) error {
	v, err := k.Get("soft404_cache")
	if err != nil {
		return err
	}
	cache, ok := v.(*lru.Cache[string, soft404Sample])
	if !ok {
		return fmt.Errorf("kb: soft404_cache has unexpected type %T", v)
	}
	r.cache = cache
	return nil
}

func (r *DetectSoft404) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	if entry.Response == nil || entry.Response.Code != 200 {
		return nil
	}
	u, err := url.Parse(entry.Request.URL)
	if err != nil || u.Host == "" {
		return nil
	}
	origin := u.Scheme + "://" + u.Host
	if u.Path == "" || u.Path == "/" {
		// The origin root legitimately answers everything.
		entry.Result.Soft404 = false
		return nil
	}

	sig := entrySignature(entry)

	for _, key := range candidateKeys(origin, u) {
		if cached, ok := r.cache.Get(key); ok && cached.votes > 0 && cached.signature.Matches(sig) {
			entry.Result.Soft404 = true
			return nil
		}
	}

	pattern := patternForPath(u.Path)
	key := origin + pattern
	if cached, ok := r.cache.Get(key); ok {
		if cached.votes > 0 && cached.signature.Matches(sig) {
			entry.Result.Soft404 = true
		}
		return nil
	}

	if r.requestEngine == nil || r.childHeuristics == nil {
		return nil
	}

	// singleflight collapses concurrent first-sighting requests under the
	// same pattern into one sampling round; every caller but the first
	// blocks on (and shares) that round's result instead of each spending
	// its own probe budget on an identical pattern.
	flight := &r.flights[r.shards.Index(key)]
	result, err, _ := flight.Do(key, func() (interface{}, error) {
		return r.sample(ctx, origin, pattern), nil
	})
	if err != nil {
		return nil
	}
	sampled := result.(soft404Sample)
	if sampled.votes > 0 && sampled.signature.Matches(sig) {
		entry.Result.Soft404 = true
	}
	return nil
}

// sample fetches soft404ProbeCount random URLs matching pattern through
// the priority lane and, if at least soft404MinVotes of them agree on a
// signature, caches and returns it. A failed round (probes unreachable or
// disagreeing) is cached too, with zero votes, so the pattern isn't
// re-probed for every matching request.
func (r *DetectSoft404) sample(ctx context.Context, origin, pattern string) soft404Sample {
	votes := map[string]int{}
	sigs := map[string]signature.ContentSignature{}

	for i := 0; i < soft404ProbeCount; i++ {
		probeURL := RandomURLFromPattern(origin, pattern)

		var probeEntry *engine.Entry
		err := retry.Do(
			func() error {
				probeEntry = engine.NewEntry(engine.NewRequest(probeURL))
				result, err := r.requestEngine.PerformHighPriority(ctx, probeEntry, r.childHeuristics)
				if err != nil {
					return err
				}
				probeEntry = result
				return nil
			},
			retry.Attempts(5),
			retry.Delay(r.collectDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
		if err != nil || probeEntry == nil || probeEntry.Response == nil {
			continue
		}

		sig := entrySignature(probeEntry)
		digest := string(sig.ContentHash)
		votes[digest]++
		sigs[digest] = sig
	}

	var bestDigest string
	bestVotes := 0
	for digest, n := range votes {
		if n > bestVotes {
			bestDigest, bestVotes = digest, n
		}
	}

	sampled := soft404Sample{}
	if bestVotes >= soft404MinVotes {
		sampled = soft404Sample{signature: sigs[bestDigest], votes: bestVotes}
	}
	r.cache.Add(origin+pattern, sampled)
	return sampled
}

// RejectSoft404 rejects any entry DetectSoft404 flagged as a soft-404. It
// must be registered after DetectSoft404 in the same event (AfterResponse)
// so the flag is already set.
type RejectSoft404 struct{}

func (RejectSoft404) AfterResponse(ctx context.Context, entry *engine.Entry) error {
	if entry.Result.Soft404 {
		return hterrors.NewRejectRequest("soft 404")
	}
	return nil
}
