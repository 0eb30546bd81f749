/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of an issue record.
type State string

const (
	// StatePending means the issue has been sighted but never admitted.
	StatePending State = "PENDING"
	// StateInProgress means an attempt is currently executing.
	StateInProgress State = "IN_PROGRESS"
	// StateDone is terminal: a pull request was produced.
	StateDone State = "DONE"
	// StateFailed means the last attempt failed; the issue may be
	// re-admitted until the retry budget is exhausted.
	StateFailed State = "FAILED"
)

// validTransitions encodes the state machine. A record may also be
// re-written in place (same state) to patch metadata.
var validTransitions = map[State][]State{
	StatePending:    {StateInProgress},
	StateInProgress: {StateDone, StateFailed},
	StateFailed:     {StateInProgress},
	StateDone:       {},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IssueKey identifies an issue by repository and number.
type IssueKey struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

func (k IssueKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Owner, k.Repo, k.Number)
}

// Validate checks that the key is fully populated.
func (k IssueKey) Validate() error {
	switch {
	case k.Owner == "":
		return errors.New("issue key owner cannot be empty")
	case k.Repo == "":
		return errors.New("issue key repo cannot be empty")
	case k.Number <= 0:
		return fmt.Errorf("issue key number must be positive, got %d", k.Number)
	}
	return nil
}

// IssueRecord is the durable per-issue lifecycle record.
type IssueRecord struct {
	Key   IssueKey `json:"key"`
	State State    `json:"state"`

	// Attempts counts admissions to IN_PROGRESS, not retries of
	// individual sub-steps. It is monotonically non-decreasing and is
	// never reset by this subsystem.
	Attempts int `json:"attempts"`

	// StartedAt is set on the first transition to IN_PROGRESS.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// CompletedAt is set on reaching DONE or FAILED.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// LastError holds a human-readable failure reason; only meaningful
	// in FAILED.
	LastError string `json:"lastError,omitempty"`

	// ResultRef identifies the produced pull request; set if and only if
	// the record is DONE.
	ResultRef string `json:"resultRef,omitempty"`
}

// Validate enforces the record invariants before persistence.
func (r *IssueRecord) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	switch r.State {
	case StatePending, StateInProgress, StateDone, StateFailed:
	default:
		return fmt.Errorf("unknown state %q", r.State)
	}
	if r.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative, got %d", r.Attempts)
	}
	if (r.ResultRef != "") != (r.State == StateDone) {
		return fmt.Errorf("resultRef must be set exactly when state is DONE (state=%s, resultRef=%q)", r.State, r.ResultRef)
	}
	if r.LastError != "" && r.State != StateFailed {
		return fmt.Errorf("lastError is only valid in FAILED, state is %s", r.State)
	}
	return nil
}
