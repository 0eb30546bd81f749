/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It honors the same per-key atomicity
// contract as FileStore but does not survive restarts, so the concurrency
// guard degrades to process scope. Intended for tests and throwaway
// deployments.
type Memory struct {
	mu      sync.Mutex
	records map[IssueKey]IssueRecord
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: map[IssueKey]IssueRecord{}}
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, key IssueKey) (*IssueRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// Transition implements Store.
func (s *Memory) Transition(_ context.Context, key IssueKey, mutate MutateFunc) (*IssueRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *IssueRecord
	if existing, ok := s.records[key]; ok {
		cp := existing
		rec = &cp
	} else {
		rec = newRecord(key)
	}

	before := rec.State
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := checkTransition(before, rec); err != nil {
		return nil, &StoreError{Op: "validate", Key: key, Err: err}
	}
	s.records[key] = *rec
	out := *rec
	return &out, nil
}
