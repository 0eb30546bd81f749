/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chainguard.dev/issuesmith/events"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// Repo identifies one repository the poller watches.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("repository %q is not in owner/name form", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// Poller periodically scans for eligible open issues and feeds them to the
// webhook endpoint as synthetic signed events.
type Poller struct {
	gh       *github.Client
	endpoint string
	secret   []byte
	repos    []Repo

	interval time.Duration
	label    string
	client   *http.Client
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides the scan interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithRequiredLabel overrides the eligibility label.
func WithRequiredLabel(label string) PollerOption {
	return func(p *Poller) { p.label = label }
}

// WithHTTPClient overrides the client used to POST synthetic events.
func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) { p.client = client }
}

// NewPoller creates a poller that POSTs to endpoint, signing with the same
// secret the webhook receiver verifies.
func NewPoller(gh *github.Client, endpoint string, secret []byte, repos []string, opts ...PollerOption) (*Poller, error) {
	switch {
	case gh == nil:
		return nil, errors.New("github client cannot be nil")
	case endpoint == "":
		return nil, errors.New("endpoint cannot be empty")
	case len(secret) == 0:
		return nil, errors.New("secret cannot be empty")
	case len(repos) == 0:
		return nil, errors.New("at least one repository is required")
	}
	p := &Poller{
		gh:       gh,
		endpoint: endpoint,
		secret:   secret,
		interval: 5 * time.Minute,
		label:    "issuesmith/solve",
		client:   http.DefaultClient,
	}
	for _, s := range repos {
		repo, err := ParseRepo(s)
		if err != nil {
			return nil, err
		}
		p.repos = append(p.repos, repo)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run scans immediately and then on every interval tick until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Scan(ctx)
		}
	}
}

// Scan performs one pass over every watched repository. Failures are
// logged, not returned: the next tick gets another chance, and anything a
// lost scan misses is still covered by at-least-once delivery overall.
func (p *Poller) Scan(ctx context.Context) {
	log := clog.FromContext(ctx)
	for _, repo := range p.repos {
		issues, err := p.eligibleIssues(ctx, repo)
		if err != nil {
			log.With("repo", repo.Owner+"/"+repo.Name).With("error", err).Warn("Listing eligible issues failed")
			continue
		}
		for _, issue := range issues {
			if err := p.deliver(ctx, repo, issue); err != nil {
				log.With("issue", fmt.Sprintf("%s/%s#%d", repo.Owner, repo.Name, issue.GetNumber())).
					With("error", err).
					Warn("Delivering synthetic event failed")
			}
		}
	}
}

// eligibleIssues lists open issues carrying the eligibility label. Pull
// requests surface through the same listing API and are filtered out.
func (p *Poller) eligibleIssues(ctx context.Context, repo Repo) ([]*github.Issue, error) {
	opt := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{p.label},
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var all []*github.Issue
	for {
		issues, resp, err := p.gh.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opt)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, issue)
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opt.ListOptions.Page = resp.NextPage
	}
}

// deliver POSTs one synthetic event, signed exactly like a webhook
// delivery so both paths hit the same admission control.
func (p *Poller) deliver(ctx context.Context, repo Repo, issue *github.Issue) error {
	ev, err := events.Synthesize(repo.Owner, repo.Name, issue)
	if err != nil {
		return err
	}
	body, err := events.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(github.EventTypeHeader, events.Category)
	req.Header.Set(github.SHA256SignatureHeader, events.Sign(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("endpoint answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
