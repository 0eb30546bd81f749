/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// IssueContext is everything the reasoning service gets to see about the
// issue it is asked to solve.
type IssueContext struct {
	Owner     string
	Repo      string
	Number    int
	Title     string
	Body      string
	Author    string
	Labels    []string
	CreatedAt time.Time
}

// Validate checks the fields the prompt cannot do without.
func (ic *IssueContext) Validate() error {
	switch {
	case ic.Owner == "" || ic.Repo == "":
		return fmt.Errorf("issue context missing repository identity (owner=%q repo=%q)", ic.Owner, ic.Repo)
	case ic.Number <= 0:
		return fmt.Errorf("issue context number must be positive, got %d", ic.Number)
	case strings.TrimSpace(ic.Title) == "":
		return fmt.Errorf("issue context title cannot be empty")
	}
	return nil
}

// changeSetSchemaJSON reflects the ChangeSet type to a JSON schema for
// embedding in the system instructions, so the response format is pinned
// to the Go type rather than drifting in prose.
func changeSetSchemaJSON() (string, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&ChangeSet{})
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling changeset schema: %w", err)
	}
	return string(raw), nil
}

// systemInstructions is the fixed role prompt shared by both backends.
func systemInstructions() (string, error) {
	schema, err := changeSetSchemaJSON()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are an automated software engineer. You are given one GitHub issue
and you respond with a complete, minimal code change that resolves it.

Respond with exactly one JSON object matching this schema, inside a single
`+"```json"+` code fence and with no other commentary:

%s

Rules:
- fileWrites must contain at least one entry with the full file content.
- Include test files in testWrites whenever the change is testable.
- Never write the same path twice across fileWrites and testWrites.
- Paths are repository-relative, forward-slash separated.
- title and description are used verbatim for the pull request.`, schema), nil
}

// userPrompt renders the issue context. User-controlled fields are wrapped
// in XML elements so that issue content cannot masquerade as instructions.
func userPrompt(ic *IssueContext) (string, error) {
	type xmlIssue struct {
		XMLName struct{} `xml:"issue"`
		Repo    string   `xml:"repository"`
		Number  int      `xml:"number"`
		Author  string   `xml:"author,omitempty"`
		Title   string   `xml:"title"`
		Body    string   `xml:"body"`
		Labels  []string `xml:"labels>label,omitempty"`
	}
	raw, err := xml.MarshalIndent(xmlIssue{
		Repo:   ic.Owner + "/" + ic.Repo,
		Number: ic.Number,
		Author: ic.Author,
		Title:  ic.Title,
		Body:   ic.Body,
		Labels: ic.Labels,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling issue context: %w", err)
	}
	return fmt.Sprintf("Resolve the following issue:\n\n%s\n", raw), nil
}
