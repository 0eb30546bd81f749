/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package statestore tracks the durable lifecycle of every issue the
// controller has seen. Each issue gets exactly one record, keyed by
// owner/repo#number, holding its state machine position, the number of
// processing attempts, and the outcome of the last attempt.
//
// The store is the single source of truth for admission control: the
// processor's idempotency and retry-budget guards are only as strong as
// Transition's per-key atomicity, so implementations must guarantee that no
// concurrent Transition for the same key is lost. Both implementations here
// (FileStore and Memory) serialize Transition calls per key.
//
// Store write failures are wrapped in *StoreError and must never be
// swallowed by callers: an un-persisted transition would desynchronize the
// guard logic.
package statestore
