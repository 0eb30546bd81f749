/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package notifier posts human-readable progress back to the originating
// issue as comments and labels. Everything here is best-effort: the
// processor logs notification failures and moves on, because durable state
// always takes precedence over user-visible messaging.
package notifier
