/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists one JSON file per issue key under a directory.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a torn record, and every write is fsynced before rename.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[IssueKey]*sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &FileStore{
		dir:   dir,
		locks: map[IssueKey]*sync.Mutex{},
	}, nil
}

// keyLock returns the mutex serializing access to one key's record.
func (s *FileStore) keyLock(key IssueKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// path maps a key to its record file. Owner and repo are escaped so the
// filename round-trips regardless of what characters they contain.
func (s *FileStore) path(key IssueKey) string {
	name := fmt.Sprintf("%s~%s~%d.json", url.PathEscape(key.Owner), url.PathEscape(key.Repo), key.Number)
	return filepath.Join(s.dir, name)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key IssueKey) (*IssueRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()
	return s.read(key)
}

func (s *FileStore) read(key IssueKey) (*IssueRecord, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "read", Key: key, Err: err}
	}
	rec := &IssueRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, &StoreError{Op: "decode", Key: key, Err: err}
	}
	return rec, nil
}

// Transition implements Store.
func (s *FileStore) Transition(_ context.Context, key IssueKey, mutate MutateFunc) (*IssueRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	rec, err := s.read(key)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = newRecord(key)
	case err != nil:
		return nil, err
	}

	before := rec.State
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := checkTransition(before, rec); err != nil {
		return nil, &StoreError{Op: "validate", Key: key, Err: err}
	}
	if err := s.write(key, rec); err != nil {
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}
	return rec, nil
}

// write persists the record via temp file, fsync, and rename.
func (s *FileStore) write(key IssueKey, rec *IssueRecord) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("renaming record into place: %w", err)
	}
	return nil
}
