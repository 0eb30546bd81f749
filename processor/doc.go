/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package processor owns the per-issue state machine:
//
//	PENDING -> IN_PROGRESS -> {DONE, FAILED}
//
// with FAILED re-admitted until the retry budget is spent and DONE
// terminal forever. Every trigger event, from either ingestion source,
// passes through one admission decision executed inside a single atomic
// state-store transition; that transition is the sole mutual-exclusion
// mechanism, so two concurrent triggers for one issue admit at most one
// attempt.
//
// An admitted attempt runs collaborator -> publisher -> terminal
// transition -> notification. Collaborator and publisher failures become a
// FAILED record plus a best-effort notification; state-store failures are
// never converted into FAILED (the guard itself is unreliable at that
// point) and instead propagate loudly, with a counter for alerting.
package processor
