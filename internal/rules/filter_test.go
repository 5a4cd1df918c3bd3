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
	"testing"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

func checkFilter(t *testing.T, f *FilterRequestFromURL, url string, wantReject bool) {
	t.Helper()
	entry := engine.NewEntry(engine.NewRequest(url))
	err := f.BeforeRequest(context.Background(), entry)
	if wantReject && !hterrors.IsReject(err) {
		t.Errorf("%s: err = %v, want RejectRequest", url, err)
	}
	if !wantReject && err != nil {
		t.Errorf("%s: err = %v, want nil", url, err)
	}
}

func TestFilterRequestFromURL(t *testing.T) {
	t.Run("AllowList", func(t *testing.T) {
		f := NewAllowFilter("example.com")
		checkFilter(t, f, "http://example.com/", false)
		checkFilter(t, f, "http://example.com/deep/path", false)
		checkFilter(t, f, "http://external.test/", true)
	})

	t.Run("AllowSubdomains", func(t *testing.T) {
		// A bare domain allows the domain and everything under it.
		f := NewAllowFilter("example.com")
		checkFilter(t, f, "http://api.example.com/", false)
		checkFilter(t, f, "http://example.com.evil.test/", true)
	})

	t.Run("DenyList", func(t *testing.T) {
		f := NewDenyFilter("tracker.test")
		checkFilter(t, f, "http://example.com/", false)
		checkFilter(t, f, "http://tracker.test/pixel", true)
	})

	t.Run("PathFilter", func(t *testing.T) {
		f := NewDenyFilter("/admin")
		checkFilter(t, f, "http://example.com/admin/users", true)
		checkFilter(t, f, "http://example.com/public", false)
	})

	t.Run("DomainAndPath", func(t *testing.T) {
		f := NewDenyFilter("example.com/private")
		checkFilter(t, f, "http://example.com/private/x", true)
		checkFilter(t, f, "http://example.com/public/x", false)
		checkFilter(t, f, "http://other.test/private/x", false)
	})
}

func TestRejectStatusCode(t *testing.T) {
	r := NewRejectStatusCode([]int{404}, ServerErrorCodes())

	cases := []struct {
		code       int
		wantReject bool
	}{
		{200, false},
		{404, true},
		{500, true},
		{503, true},
		{301, false},
	}
	for _, tc := range cases {
		entry := engine.NewEntry(engine.NewRequest("http://example.com/"))
		entry.Response = respond(tc.code, "", nil)
		err := r.AfterHeaders(context.Background(), entry)
		if tc.wantReject != hterrors.IsReject(err) {
			t.Errorf("code %d: err = %v, wantReject = %v", tc.code, err, tc.wantReject)
		}
	}
}

func TestRejectBlockPage(t *testing.T) {
	r := NewRejectBlockPage("The requested URL was rejected. Please consult with your administrator.")

	blocked := engine.NewEntry(engine.NewRequest("http://example.com/x"))
	blocked.Response = respond(200, "<html>The requested URL was rejected. Please consult with your administrator.<br>ID 1234</html>", nil)
	if err := r.AfterResponse(context.Background(), blocked); !hterrors.IsReject(err) {
		t.Errorf("block page = %v, want RejectRequest", err)
	}

	clean := engine.NewEntry(engine.NewRequest("http://example.com/y"))
	clean.Response = respond(200, "<html>regular page</html>", nil)
	if err := r.AfterResponse(context.Background(), clean); err != nil {
		t.Errorf("clean page = %v, want nil", err)
	}
}
