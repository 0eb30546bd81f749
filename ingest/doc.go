/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ingest contains both trigger sources: the webhook receiver and
// the poller. The two deliberately converge on one HTTP endpoint with one
// signature scheme, so there is exactly one code path deciding whether to
// act on an issue, and the processor's guards cover both sources the same
// way.
//
// The receiver verifies signatures before anything else, filters to
// "issues"/"opened" deliveries, answers everything else with an explicit
// "ignored" body, and dispatches accepted events without tying its
// response latency to pipeline completion. The poller periodically scans
// the configured repositories for open issues carrying the eligibility
// label and POSTs synthetic, identically-signed events to that same
// endpoint.
package ingest
