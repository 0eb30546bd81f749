/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

// Interface is the contract the processor consumes: one issue in, one
// validated ChangeSet or typed error out.
type Interface interface {
	Propose(ctx context.Context, ic *IssueContext) (*ChangeSet, error)
}

// Claude proposes solutions using the Anthropic Messages API.
type Claude struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ Interface = (*Claude)(nil)

// ClaudeOption configures a Claude adapter.
type ClaudeOption func(*Claude) error

// WithModel overrides the model name.
func WithModel(model string) ClaudeOption {
	return func(c *Claude) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		c.model = model
		return nil
	}
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(tokens int64) ClaudeOption {
	return func(c *Claude) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		c.maxTokens = tokens
		return nil
	}
}

// NewClaude wraps an Anthropic client as a collaborator. In production the
// client is constructed with vertex.WithGoogleAuth; tests point it at a
// fake server.
func NewClaude(client anthropic.Client, opts ...ClaudeOption) (*Claude, error) {
	c := &Claude{
		client:      client,
		model:       "claude-sonnet-4-5@20250929",
		maxTokens:   32000,
		temperature: 0.2,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return c, nil
}

// Propose implements Interface.
func (c *Claude) Propose(ctx context.Context, ic *IssueContext) (*ChangeSet, error) {
	log := clog.FromContext(ctx)

	if err := ic.Validate(); err != nil {
		return nil, &InvalidSolutionError{Reason: "bad issue context", Err: err}
	}

	system, err := systemInstructions()
	if err != nil {
		return nil, err
	}
	prompt, err := userPrompt(ic)
	if err != nil {
		return nil, err
	}

	log.With("model", c.model).
		With("issue", fmt.Sprintf("%s/%s#%d", ic.Owner, ic.Repo, ic.Number)).
		Info("Requesting solution from Claude")

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
	})
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	var text strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &InvalidSolutionError{Reason: "no text content in response"}
	}

	cs, err := decodeChangeSet(text.String())
	if err != nil {
		log.With("error", err).Error("Claude response failed validation")
		return nil, err
	}
	if len(cs.TestWrites) == 0 {
		log.Warn("Solution contains no test writes")
	}
	return cs, nil
}
