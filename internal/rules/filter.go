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
	"net/url"
	"strings"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

type urlFilter struct {
	domain []string
	path   []string
}

// FilterRequestFromURL allows or denies requests by domain and/or path
// prefix match. Exactly one of allow/deny must be supplied.
type FilterRequestFromURL struct {
	allow []urlFilter
	deny  []urlFilter
}

// NewAllowFilter builds a FilterRequestFromURL that rejects any request
// whose URL doesn't match one of patterns.
func NewAllowFilter(patterns ...string) *FilterRequestFromURL {
	return &FilterRequestFromURL{allow: parseFilterList(patterns)}
}

// NewDenyFilter builds a FilterRequestFromURL that rejects any request
// whose URL matches one of patterns.
func NewDenyFilter(patterns ...string) *FilterRequestFromURL {
	return &FilterRequestFromURL{deny: parseFilterList(patterns)}
}

func parseFilterList(patterns []string) []urlFilter {
	filters := make([]urlFilter, 0, len(patterns))
	for _, p := range patterns {
		filters = append(filters, parseFilter(p))
	}
	return filters
}

func parseFilter(pattern string) urlFilter {
	if !strings.Contains(pattern, "//") && !strings.HasPrefix(pattern, "/") {
		pattern = "//" + pattern
	}
	u, err := url.Parse(pattern)
	if err != nil {
		return urlFilter{}
	}
	var f urlFilter
	if u.Host != "" {
		f.domain = splitDomain(u.Host)
	}
	if u.Path != "" {
		f.path = splitPath(u.Path)
	}
	return f
}

func splitDomain(domain string) []string {
	parts := strings.Split(domain, ".")
	reversed := make([]string, len(parts))
	for i, p := range parts {
		reversed[len(parts)-1-i] = p
	}
	return reversed
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (f *FilterRequestFromURL) BeforeRequest(ctx context.Context, entry *engine.Entry) error {
	u := entry.Request.URL
	if len(f.allow) > 0 {
		if !matchFound(u, f.allow) {
			return hterrors.NewRejectRequestf("request URL %s is not in whitelist patterns", u)
		}
		return nil
	}
	if len(f.deny) > 0 && matchFound(u, f.deny) {
		return hterrors.NewRejectRequestf("request URL %s is in blacklist patterns", u)
	}
	return nil
}

func matchFound(rawURL string, filters []urlFilter) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	domainParts := splitDomain(parsed.Host)
	pathParts := splitPath(parsed.Path)

	for _, f := range filters {
		domainMatch := len(f.domain) > 0 && containsPrefix(f.domain, domainParts)
		pathMatch := len(f.path) > 0 && containsPrefix(f.path, pathParts)

		if len(f.domain) > 0 && len(f.path) > 0 {
			if domainMatch && pathMatch {
				return true
			}
		} else if domainMatch || pathMatch {
			return true
		}
	}
	return false
}

func containsPrefix(container, contained []string) bool {
	if len(container) > len(contained) {
		return false
	}
	for i := range container {
		if container[i] != contained[i] {
			return false
		}
	}
	return true
}
