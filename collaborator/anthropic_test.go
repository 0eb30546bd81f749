/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func writeJSON(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

// fakeClaude spins up a fake Messages API answering every request with the
// given text content.
func fakeClaude(t *testing.T, status int, text string) anthropic.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5@20250929",
			"stop_reason": "end_turn",
			"content": []map[string]any{{
				"type": "text",
				"text": text,
			}},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 20},
		}
		writeJSON(t, w, body)
	}))
	t.Cleanup(srv.Close)
	return anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
}

const goodResponse = "```json\n" + `{
  "summary": "Fix the counter.",
  "rationale": "Off by one.",
  "fileWrites": [{"path": "counter.go", "action": "modify", "content": "package main\n"}],
  "testWrites": [{"path": "counter_test.go", "content": "package main\n"}],
  "title": "Fix counter",
  "description": "Counts correctly now."
}` + "\n```"

func TestClaudeProposes(t *testing.T) {
	c, err := NewClaude(fakeClaude(t, http.StatusOK, goodResponse))
	if err != nil {
		t.Fatalf("NewClaude() = %v", err)
	}
	cs, err := c.Propose(context.Background(), testIssueContext())
	if err != nil {
		t.Fatalf("Propose() = %v", err)
	}
	if cs.Title != "Fix counter" {
		t.Errorf("Title = %q, want %q", cs.Title, "Fix counter")
	}
	if len(cs.FileWrites) != 1 || len(cs.TestWrites) != 1 {
		t.Errorf("got %d file writes and %d test writes, want 1 and 1",
			len(cs.FileWrites), len(cs.TestWrites))
	}
}

func TestClaudeMalformedResponseIsInvalid(t *testing.T) {
	c, err := NewClaude(fakeClaude(t, http.StatusOK, "I cannot solve this issue, sorry."))
	if err != nil {
		t.Fatalf("NewClaude() = %v", err)
	}
	_, err = c.Propose(context.Background(), testIssueContext())
	var ise *InvalidSolutionError
	if !errors.As(err, &ise) {
		t.Fatalf("Propose() = %v, want InvalidSolutionError", err)
	}
}

func TestClaudeServerErrorIsUnavailable(t *testing.T) {
	c, err := NewClaude(fakeClaude(t, http.StatusInternalServerError, ""))
	if err != nil {
		t.Fatalf("NewClaude() = %v", err)
	}
	_, err = c.Propose(context.Background(), testIssueContext())
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("Propose() = %v, want UnavailableError", err)
	}
}

func TestClaudeRejectsBadIssueContext(t *testing.T) {
	c, err := NewClaude(fakeClaude(t, http.StatusOK, goodResponse))
	if err != nil {
		t.Fatalf("NewClaude() = %v", err)
	}
	ic := testIssueContext()
	ic.Number = 0
	_, err = c.Propose(context.Background(), ic)
	var ise *InvalidSolutionError
	if !errors.As(err, &ise) {
		t.Fatalf("Propose() = %v, want InvalidSolutionError", err)
	}
}

func TestClaudeOptions(t *testing.T) {
	client := fakeClaude(t, http.StatusOK, goodResponse)

	if _, err := NewClaude(client, WithModel("gpt-5")); err == nil {
		t.Error("WithModel(gpt-5) accepted a non-Claude model")
	}
	if _, err := NewClaude(client, WithMaxTokens(0)); err == nil {
		t.Error("WithMaxTokens(0) accepted a zero budget")
	}
	if _, err := NewClaude(client,
		WithModel("claude-opus-4-1@20250805"),
		WithMaxTokens(1024),
	); err != nil {
		t.Errorf("NewClaude(valid options) = %v", err)
	}
}

func TestGoogleOptions(t *testing.T) {
	if err := WithGoogleModel("")(nil); err == nil {
		t.Error("WithGoogleModel(\"\") accepted an empty model")
	}
}
