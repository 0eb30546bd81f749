/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls the JSON document out of a model response that may wrap
// it in a markdown code fence. If a ```json fence is present its contents
// win; otherwise the response is used as-is after trimming stray fences and
// whitespace.
func extractJSON(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	inBlock, found := false, false
	for _, line := range lines {
		switch {
		case !inBlock && strings.TrimSpace(line) == "```json":
			inBlock, found = true, true
		case inBlock && strings.TrimSpace(line) == "```":
			return strings.TrimSpace(b.String())
		case inBlock:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(line)
		}
	}
	if found {
		return strings.TrimSpace(b.String())
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// decodeChangeSet parses and validates a model response. Fields beyond the
// declared schema are ignored rather than trusted.
func decodeChangeSet(text string) (*ChangeSet, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, &InvalidSolutionError{Reason: "empty response"}
	}
	cs := &ChangeSet{}
	if err := json.Unmarshal([]byte(raw), cs); err != nil {
		return nil, &InvalidSolutionError{Reason: "response is not valid JSON", Err: err}
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}
