/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/issuesmith/publisher"
	"chainguard.dev/issuesmith/statestore"
	"github.com/google/go-github/v75/github"
)

// Interface is what the processor needs from a notification sink.
type Interface interface {
	Started(ctx context.Context, key statestore.IssueKey, attempt int) error
	Succeeded(ctx context.Context, key statestore.IssueKey, pc *publisher.PublishedChange, files []string) error
	Failed(ctx context.Context, key statestore.IssueKey, attempt int, reason string) error
}

// GitHub posts comments and labels through the issues API.
type GitHub struct {
	gh       *github.Client
	identity string
}

var _ Interface = (*GitHub)(nil)

// New creates a GitHub notifier. Identity prefixes the outcome labels.
func New(gh *github.Client, identity string) (*GitHub, error) {
	if gh == nil {
		return nil, errors.New("github client cannot be nil")
	}
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}
	return &GitHub{gh: gh, identity: identity}, nil
}

// Started implements Interface.
func (n *GitHub) Started(ctx context.Context, key statestore.IssueKey, attempt int) error {
	body := fmt.Sprintf("🤖 Working on this issue (attempt %d).", attempt)
	return errors.Join(
		n.comment(ctx, key, body),
		n.label(ctx, key, n.identity+"/in-progress"),
	)
}

// Succeeded implements Interface.
func (n *GitHub) Succeeded(ctx context.Context, key statestore.IssueKey, pc *publisher.PublishedChange, files []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Opened %s with a proposed fix.\n\nFiles changed:\n", pc.PRURL)
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	return errors.Join(
		n.comment(ctx, key, b.String()),
		n.label(ctx, key, n.identity+"/done"),
	)
}

// Failed implements Interface.
func (n *GitHub) Failed(ctx context.Context, key statestore.IssueKey, attempt int, reason string) error {
	body := fmt.Sprintf("❌ Attempt %d failed: %s", attempt, reason)
	return errors.Join(
		n.comment(ctx, key, body),
		n.label(ctx, key, n.identity+"/failed"),
	)
}

func (n *GitHub) comment(ctx context.Context, key statestore.IssueKey, body string) error {
	_, _, err := n.gh.Issues.CreateComment(ctx, key.Owner, key.Repo, key.Number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("creating comment on %s: %w", key, err)
	}
	return nil
}

func (n *GitHub) label(ctx context.Context, key statestore.IssueKey, label string) error {
	_, _, err := n.gh.Issues.AddLabelsToIssue(ctx, key.Owner, key.Repo, key.Number, []string{label})
	if err != nil {
		return fmt.Errorf("adding label %q to %s: %w", label, key, err)
	}
	return nil
}
