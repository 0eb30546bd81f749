/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package publisher materializes a ChangeSet as repository objects through
// the GitHub Git Data API: blob -> tree -> commit -> ref -> pull request.
//
// The sequence is modeled as a pipeline of typed stages, each consuming the
// previous stage's output, so the ordering the remote API silently relies
// on is enforced by the compiler rather than by discipline. Everything up
// to the ref update writes only unreferenced objects; a failure there
// leaves no observable repository change. The ref update and PR creation
// are idempotent: re-pointing the branch at the same commit, or opening a
// PR where one already exists for the branch, resolves to success.
//
// Branch names are deterministic per issue (<identity>/issue-<n>), so a
// retried attempt reuses its branch instead of accumulating stale ones.
package publisher
