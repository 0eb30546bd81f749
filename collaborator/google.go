/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package collaborator

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"
)

// Google proposes solutions using the Google GenAI SDK (Gemini on Vertex).
type Google struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ Interface = (*Google)(nil)

// GoogleOption configures a Google adapter.
type GoogleOption func(*Google) error

// WithGoogleModel overrides the model name.
func WithGoogleModel(model string) GoogleOption {
	return func(g *Google) error {
		if model == "" {
			return errors.New("model cannot be empty")
		}
		g.model = model
		return nil
	}
}

// NewGoogle wraps a GenAI client as a collaborator.
func NewGoogle(client *genai.Client, opts ...GoogleOption) (*Google, error) {
	if client == nil {
		return nil, errors.New("genai client cannot be nil")
	}
	g := &Google{
		client:      client,
		model:       "gemini-2.5-pro",
		temperature: 0.2,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return g, nil
}

// Propose implements Interface.
func (g *Google) Propose(ctx context.Context, ic *IssueContext) (*ChangeSet, error) {
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

	log.With("model", g.model).
		With("issue", fmt.Sprintf("%s/%s#%d", ic.Owner, ic.Repo, ic.Number)).
		Info("Requesting solution from Gemini")

	response, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{{
			Text: prompt,
		}},
	}}, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{
				Text: system,
			}},
		},
	})
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, &InvalidSolutionError{Reason: "no candidates in response"}
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return nil, &InvalidSolutionError{Reason: "no text content in response"}
	}

	cs, err := decodeChangeSet(text)
	if err != nil {
		log.With("error", err).Error("Gemini response failed validation")
		return nil, err
	}
	if len(cs.TestWrites) == 0 {
		log.Warn("Solution contains no test writes")
	}
	return cs, nil
}
