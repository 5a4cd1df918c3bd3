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

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"hammertime/internal/engine"
	"hammertime/internal/hterrors"
)

// HTTPEngine is the default engine.RequestEngine: it drives *http.Client
// through one attempt of one Entry, calling the Heuristics lifecycle hooks
// before the request, after the headers arrive, and after the body is read.
//
// When a heuristic rejects mid-response, HTTPEngine always closes (and
// partially drains) the response body, trading a small amount of
// connection reuse for a much simpler contract.
type HTTPEngine struct {
	client         *http.Client
	defaultTimeout time.Duration

	mu       sync.RWMutex
	proxyURL *url.URL
}

// NewHTTPEngine returns an HTTPEngine with the given default per-request
// timeout, used whenever a Request's Arguments don't carry a "timeout"
// override.
func NewHTTPEngine(defaultTimeout time.Duration) *HTTPEngine {
	e := &HTTPEngine{defaultTimeout: defaultTimeout}
	e.client = &http.Client{
		Transport: &http.Transport{
			Proxy: e.proxyFunc,
		},
		// Redirects are a heuristic's job (see rules.FollowRedirects), not
		// the transport's: that rule issues each hop as its own engine
		// sub-request.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return e
}

func (e *HTTPEngine) proxyFunc(req *http.Request) (*url.URL, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.proxyURL == nil {
		return nil, nil
	}
	return e.proxyURL, nil
}

// SetProxy reconfigures the proxy used for all subsequent requests. An
// empty string clears the proxy.
func (e *HTTPEngine) SetProxy(proxy string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if proxy == "" {
		e.proxyURL = nil
		return
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return
	}
	e.proxyURL = u
}

// Perform executes one HTTP attempt for entry.
func (e *HTTPEngine) Perform(ctx context.Context, entry *engine.Entry, heuristics engine.Heuristics) (*engine.Entry, error) {
	if err := heuristics.BeforeRequest(ctx, entry); err != nil {
		return nil, err
	}

	timeout := e.defaultTimeout
	if v, ok := entry.Request.Arguments["timeout"]; ok {
		if d, ok := v.(time.Duration); ok && d > 0 {
			timeout = d
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, entry.Request.Method, entry.Request.URL, nil)
	if err != nil {
		return nil, hterrors.NewRejectRequestf("invalid request: %v", err)
	}
	for k, v := range entry.Request.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			heuristics.OnTimeout(ctx, entry)
			return nil, hterrors.WrapStopRequest("Timeout reached", err)
		}
		if isUnreachableErr(err) {
			heuristics.OnHostUnreachable(ctx, entry)
			return nil, hterrors.WrapStopRequest("Host Unreachable", err)
		}
		return nil, hterrors.WrapStopRequest("transport error", err)
	}
	defer resp.Body.Close()

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	entry.Response = &engine.Response{Code: resp.StatusCode, Headers: headers}

	if err := heuristics.AfterHeaders(ctx, entry); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	raw, truncated, err := readCapped(resp.Body, entry.Result.ReadLength)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			heuristics.OnTimeout(ctx, entry)
			return nil, hterrors.WrapStopRequest("Timeout reached", err)
		}
		return nil, hterrors.WrapStopRequest("body read error", err)
	}
	entry.Response.Raw = raw
	entry.Response.Truncated = truncated

	if err := heuristics.AfterResponse(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// readCapped reads at most max bytes from r, or the whole body if max < 0,
// reporting whether more data remained unread (truncated).
func readCapped(r io.Reader, max int) ([]byte, bool, error) {
	if max < 0 {
		data, err := io.ReadAll(r)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false, err
		}
		return data, false, nil
	}

	limited := io.LimitReader(r, int64(max)+1)
	data, err := io.ReadAll(limited)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	if len(data) > max {
		return data[:max], true, nil
	}
	return data, false, nil
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isUnreachableErr(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Close releases idle connections held by the underlying client.
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
