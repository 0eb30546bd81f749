/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/issuesmith/statestore"
	"github.com/google/go-github/v75/github"
)

// Category is the webhook event category both ingestion paths converge on.
const Category = "issues"

// ActionOpened is the only sub-action that admits an issue for processing.
const ActionOpened = "opened"

// ValidationError indicates a structurally malformed trigger event. Like
// AuthenticationError it is a boundary rejection and never reaches the
// processor.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trigger event: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Key extracts the issue key from a trigger event.
func Key(ev *github.IssuesEvent) (statestore.IssueKey, error) {
	key := statestore.IssueKey{
		Owner:  ev.GetRepo().GetOwner().GetLogin(),
		Repo:   ev.GetRepo().GetName(),
		Number: ev.GetIssue().GetNumber(),
	}
	if err := key.Validate(); err != nil {
		return statestore.IssueKey{}, &ValidationError{Err: err}
	}
	return key, nil
}

// Synthesize builds the poller's trigger event for an issue, shaped
// identically to a webhook "issues"/"opened" delivery.
func Synthesize(owner, repo string, issue *github.Issue) (*github.IssuesEvent, error) {
	if issue == nil {
		return nil, errors.New("issue cannot be nil")
	}
	return &github.IssuesEvent{
		Action: github.Ptr(ActionOpened),
		Issue:  issue,
		Repo: &github.Repository{
			Name: github.Ptr(repo),
			Owner: &github.User{
				Login: github.Ptr(owner),
			},
		},
	}, nil
}

// Marshal serializes an event exactly as it should be signed and POSTed.
func Marshal(ev *github.IssuesEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding trigger event: %w", err)
	}
	return body, nil
}
