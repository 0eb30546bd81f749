/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"fmt"
	"path"
	"strings"
)

// FileAction distinguishes new files from edits to existing ones.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
)

// FileWrite is one file the solution wants written.
type FileWrite struct {
	Path    string     `json:"path" jsonschema:"required,description=Repository-relative path of the file to write"`
	Action  FileAction `json:"action" jsonschema:"required,enum=create,enum=modify,description=Whether the file is new or an edit to an existing file"`
	Content string     `json:"content" jsonschema:"required,description=Complete new content of the file"`
}

// TestWrite is one test file accompanying the solution.
type TestWrite struct {
	Path    string `json:"path" jsonschema:"required,description=Repository-relative path of the test file"`
	Content string `json:"content" jsonschema:"required,description=Complete content of the test file"`
}

// ChangeSet is the validated output of one Propose call: the files to
// write and the pull-request metadata describing them.
type ChangeSet struct {
	Summary   string `json:"summary" jsonschema:"required,description=One-paragraph summary of the change"`
	Rationale string `json:"rationale" jsonschema:"required,description=Why this change resolves the issue"`

	FileWrites []FileWrite `json:"fileWrites" jsonschema:"required,description=Source files to create or modify; at least one"`
	TestWrites []TestWrite `json:"testWrites,omitempty" jsonschema:"description=Test files accompanying the change"`

	Title       string `json:"title" jsonschema:"required,description=Pull request title"`
	Description string `json:"description" jsonschema:"required,description=Pull request body"`
}

// Validate enforces the ChangeSet invariants. Any violation makes the
// whole solution invalid; there is no partial acceptance.
func (cs *ChangeSet) Validate() error {
	if len(cs.FileWrites) == 0 {
		return &InvalidSolutionError{Reason: "fileWrites is empty"}
	}
	if strings.TrimSpace(cs.Summary) == "" {
		return &InvalidSolutionError{Reason: "summary is empty"}
	}
	if strings.TrimSpace(cs.Title) == "" {
		return &InvalidSolutionError{Reason: "title is empty"}
	}

	seen := make(map[string]struct{}, len(cs.FileWrites)+len(cs.TestWrites))
	record := func(p string) error {
		if err := checkPath(p); err != nil {
			return err
		}
		if _, dup := seen[p]; dup {
			return &InvalidSolutionError{Reason: fmt.Sprintf("duplicate path %q", p)}
		}
		seen[p] = struct{}{}
		return nil
	}

	for _, fw := range cs.FileWrites {
		if fw.Action != ActionCreate && fw.Action != ActionModify {
			return &InvalidSolutionError{Reason: fmt.Sprintf("unknown action %q for %q", fw.Action, fw.Path)}
		}
		if err := record(fw.Path); err != nil {
			return err
		}
	}
	for _, tw := range cs.TestWrites {
		if err := record(tw.Path); err != nil {
			return err
		}
	}
	return nil
}

// checkPath rejects paths that could escape the repository tree or that
// the Git Data API would not accept verbatim.
func checkPath(p string) error {
	switch {
	case p == "":
		return &InvalidSolutionError{Reason: "empty path"}
	case strings.HasPrefix(p, "/"):
		return &InvalidSolutionError{Reason: fmt.Sprintf("absolute path %q", p)}
	case strings.Contains(p, "\\"):
		return &InvalidSolutionError{Reason: fmt.Sprintf("backslash in path %q", p)}
	case path.Clean(p) != p, p == "." || strings.HasPrefix(p, "../") || strings.Contains(p, "/../"):
		return &InvalidSolutionError{Reason: fmt.Sprintf("non-canonical path %q", p)}
	}
	return nil
}
