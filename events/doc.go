/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package events defines the single trigger-event currency shared by both
// ingestion paths. Webhook deliveries arrive as GitHub "issues" events; the
// poller synthesizes byte-identical payloads and signs them with the same
// webhook secret, so by the time an event reaches the processor there is no
// way to tell which source produced it.
//
// Signatures are HMAC-SHA256 over the exact serialized body, carried in the
// X-Hub-Signature-256 header. Verification delegates to go-github's
// constant-time ValidateSignature.
package events
