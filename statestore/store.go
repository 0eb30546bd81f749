/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("issue record not found")

// StoreError wraps a failure to read or persist a record. Guard
// correctness depends on durable writes, so callers must treat these as
// fatal to the current attempt rather than converting them into a normal
// FAILED transition.
type StoreError struct {
	Op  string
	Key IssueKey
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// MutateFunc inspects and updates a record inside a Transition. The record
// passed in is a private copy; it is persisted only when the function
// returns nil. Returning an error aborts the transition without persisting
// anything, and Transition surfaces that error unwrapped so callers can
// signal guard decisions through it.
type MutateFunc func(*IssueRecord) error

// Store is the durable per-issue record store.
//
// Transition is the only mutation primitive: it performs an atomic
// read-modify-write for one key. Implementations must serialize concurrent
// Transition calls per key so that no interleaved update is lost.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key IssueKey) (*IssueRecord, error)

	// Transition atomically applies mutate to the record for key,
	// creating a fresh PENDING record if none exists yet. The mutated
	// record is validated (including state machine legality) and
	// persisted before being returned.
	Transition(ctx context.Context, key IssueKey, mutate MutateFunc) (*IssueRecord, error)
}

// newRecord returns the lazily-created initial record for a key.
func newRecord(key IssueKey) *IssueRecord {
	return &IssueRecord{
		Key:   key,
		State: StatePending,
	}
}

// checkTransition validates the mutated record against the prior state.
func checkTransition(before State, after *IssueRecord) error {
	if err := after.Validate(); err != nil {
		return err
	}
	if !CanTransition(before, after.State) {
		return fmt.Errorf("illegal transition %s -> %s", before, after.State)
	}
	return nil
}
