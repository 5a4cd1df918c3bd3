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

// Package hterrors defines the HammerTime error taxonomy shared by every
// component of the pipeline: the engine, the rule set, and the transport
// contract signal request failures with one of these three kinds.
// Cancellation is not wrapped: it surfaces as the context's own error.
package hterrors

import "fmt"

// StopRequest signals a retriable transport-level failure (timeout, reset,
// transient DNS failure, ...). The retry engine consumes it until the
// configured retry budget is exhausted, then lets it propagate.
type StopRequest struct {
	Reason string
	Err    error
}

func (e *StopRequest) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stop request: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("stop request: %s", e.Reason)
}

func (e *StopRequest) Unwrap() error { return e.Err }

// NewStopRequest builds a StopRequest with a reason and no wrapped cause.
func NewStopRequest(reason string) *StopRequest { return &StopRequest{Reason: reason} }

// WrapStopRequest builds a StopRequest around an underlying transport error.
func WrapStopRequest(reason string, err error) *StopRequest {
	return &StopRequest{Reason: reason, Err: err}
}

// RejectRequest signals a terminal, policy-level rejection (status filter,
// URL filter, catch-all redirect, soft-404, WAF, dead host, behavior
// change). It is never retried.
type RejectRequest struct {
	Reason string
}

func (e *RejectRequest) Error() string { return fmt.Sprintf("request rejected: %s", e.Reason) }

// NewRejectRequest builds a RejectRequest with the given reason.
func NewRejectRequest(reason string) *RejectRequest { return &RejectRequest{Reason: reason} }

// NewRejectRequestf builds a RejectRequest with a formatted reason.
func NewRejectRequestf(format string, args ...interface{}) *RejectRequest {
	return &RejectRequest{Reason: fmt.Sprintf(format, args...)}
}

// OfflineHostException signals that a host has been marked dead by the
// dead-host detector; further requests to it are short-circuited.
type OfflineHostException struct {
	Host string
}

func (e *OfflineHostException) Error() string { return fmt.Sprintf("%s is offline", e.Host) }

// NewOfflineHostException builds an OfflineHostException for the given host.
func NewOfflineHostException(host string) *OfflineHostException {
	return &OfflineHostException{Host: host}
}

// IgnoreBody is a "stop reading the response body" signal. No component in
// this module returns or checks it: the body-cutoff rule caps reads by
// setting Result.ReadLength, which the transport honours directly.
type IgnoreBody struct{}

func (e *IgnoreBody) Error() string { return "ignore remaining body" }

// IsStop reports whether err is a *StopRequest.
func IsStop(err error) bool {
	_, ok := err.(*StopRequest)
	return ok
}

// IsReject reports whether err is a *RejectRequest.
func IsReject(err error) bool {
	_, ok := err.(*RejectRequest)
	return ok
}
