/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import "fmt"

// InvalidSolutionError indicates the reasoning service responded, but the
// response failed schema extraction or ChangeSet validation.
type InvalidSolutionError struct {
	Reason string
	Err    error
}

func (e *InvalidSolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid solution: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid solution: %s", e.Reason)
}

func (e *InvalidSolutionError) Unwrap() error { return e.Err }

// UnavailableError indicates the reasoning service could not be reached or
// did not answer in time.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("collaborator unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
