/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package publisher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/issuesmith/collaborator"
	"chainguard.dev/issuesmith/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/shurcooL/githubv4"
)

// Error wraps a hosting-API failure with the pipeline step it happened in.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PublishedChange is the materialized result of one publish, in creation
// order: branch, commit, pull request.
type PublishedChange struct {
	Branch    string
	CommitSHA string
	PRNumber  int
	PRURL     string
}

// Publisher writes ChangeSets to GitHub repositories.
type Publisher struct {
	gh       *github.Client
	gql      *githubv4.Client
	identity string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithIdentity overrides the branch-name prefix and PR attribution.
func WithIdentity(identity string) Option {
	return func(p *Publisher) {
		p.identity = identity
	}
}

// WithGraphQLClient overrides the GraphQL client used for existing-PR
// discovery. Tests point this at a fake endpoint.
func WithGraphQLClient(gql *githubv4.Client) Option {
	return func(p *Publisher) {
		p.gql = gql
	}
}

// New creates a Publisher over an authenticated GitHub client.
func New(gh *github.Client, opts ...Option) (*Publisher, error) {
	if gh == nil {
		return nil, errors.New("github client cannot be nil")
	}
	p := &Publisher{
		gh:       gh,
		identity: "issuesmith",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gql == nil {
		p.gql = githubv4.NewClient(gh.Client())
	}
	return p, nil
}

// BranchName is the deterministic work branch for an issue.
func (p *Publisher) BranchName(issueNumber int) string {
	return fmt.Sprintf("%s/issue-%d", p.identity, issueNumber)
}

// Stage outputs. Each later step takes the earlier step's type, so the
// seven-step order cannot be rearranged without a type error.

// baseTip is the resolved tip of the base branch (step 1).
type baseTip struct {
	commitSHA string
	treeSHA   string
}

// workBranch is the per-issue branch parked at the base tip (step 2).
type workBranch struct {
	ref string // refs/heads/...
	tip baseTip
}

// blobSet is the content-addressed blobs, in ChangeSet order (step 3).
type blobSet struct {
	entries []*github.TreeEntry
}

// newTree is the single tree applying every path mapping (step 4).
type newTree struct {
	sha string
	tip baseTip
}

// newCommit is the commit of that tree onto the base tip (step 5).
type newCommit struct {
	sha string
}

// Publish writes cs as one commit on the issue's work branch and ensures a
// pull request exists for it. The existing open PR for the branch, if any,
// is discovered up front so step 7 can resolve conflicts to success.
func (p *Publisher) Publish(ctx context.Context, key statestore.IssueKey, baseBranch string, cs *collaborator.ChangeSet) (*PublishedChange, error) {
	log := clog.FromContext(ctx)

	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if baseBranch == "" {
		return nil, errors.New("base branch cannot be empty")
	}
	branchName := p.BranchName(key.Number)

	existing, err := p.existingPR(ctx, key.Owner, key.Repo, branchName, baseBranch)
	if err != nil {
		return nil, &Error{Step: "query existing pull request", Err: err}
	}

	tip, err := p.resolveBase(ctx, key, baseBranch)
	if err != nil {
		return nil, err
	}
	branch, err := p.ensureBranch(ctx, key, branchName, tip)
	if err != nil {
		return nil, err
	}
	blobs, err := p.writeBlobs(ctx, key, cs)
	if err != nil {
		return nil, err
	}
	tree, err := p.buildTree(ctx, key, tip, blobs)
	if err != nil {
		return nil, err
	}
	commit, err := p.createCommit(ctx, key, tree, cs)
	if err != nil {
		return nil, err
	}
	if err := p.advanceRef(ctx, key, branch, commit); err != nil {
		return nil, err
	}
	pc, err := p.ensurePR(ctx, key, branchName, baseBranch, commit, cs, existing)
	if err != nil {
		return nil, err
	}

	log.With("branch", pc.Branch).
		With("commit", pc.CommitSHA).
		With("pr", pc.PRURL).
		Info("Published change")
	return pc, nil
}

// resolveBase fetches the base branch tip and its tree (step 1).
func (p *Publisher) resolveBase(ctx context.Context, key statestore.IssueKey, baseBranch string) (baseTip, error) {
	ref, _, err := p.gh.Git.GetRef(ctx, key.Owner, key.Repo, "heads/"+baseBranch)
	if err != nil {
		return baseTip{}, &Error{Step: "resolve base ref", Err: err}
	}
	sha := ref.GetObject().GetSHA()
	commit, _, err := p.gh.Git.GetCommit(ctx, key.Owner, key.Repo, sha)
	if err != nil {
		return baseTip{}, &Error{Step: "resolve base commit", Err: err}
	}
	return baseTip{
		commitSHA: sha,
		treeSHA:   commit.GetTree().GetSHA(),
	}, nil
}

// ensureBranch creates the work branch at the base tip (step 2). A branch
// left over from an earlier attempt is reset to the tip instead.
func (p *Publisher) ensureBranch(ctx context.Context, key statestore.IssueKey, branchName string, tip baseTip) (workBranch, error) {
	ref := "refs/heads/" + branchName
	_, _, err := p.gh.Git.CreateRef(ctx, key.Owner, key.Repo, github.CreateRef{
		Ref: ref,
		SHA: tip.commitSHA,
	})
	switch {
	case err == nil:
		return workBranch{ref: ref, tip: tip}, nil
	case isAlreadyExists(err):
		clog.FromContext(ctx).With("branch", branchName).Info("Reusing existing work branch")
		if _, _, err := p.gh.Git.UpdateRef(ctx, key.Owner, key.Repo, ref, github.UpdateRef{
			SHA:   tip.commitSHA,
			Force: github.Ptr(true),
		}); err != nil {
			return workBranch{}, &Error{Step: "reset work branch", Err: err}
		}
		return workBranch{ref: ref, tip: tip}, nil
	default:
		return workBranch{}, &Error{Step: "create work branch", Err: err}
	}
}

// writeBlobs uploads every file and test write as a blob (step 3),
// preserving ChangeSet order: fileWrites first, then testWrites.
func (p *Publisher) writeBlobs(ctx context.Context, key statestore.IssueKey, cs *collaborator.ChangeSet) (blobSet, error) {
	var set blobSet
	write := func(path, content string) error {
		blob, _, err := p.gh.Git.CreateBlob(ctx, key.Owner, key.Repo, github.Blob{
			Content:  github.Ptr(base64.StdEncoding.EncodeToString([]byte(content))),
			Encoding: github.Ptr("base64"),
		})
		if err != nil {
			return &Error{Step: fmt.Sprintf("create blob for %q", path), Err: err}
		}
		set.entries = append(set.entries, &github.TreeEntry{
			Path: github.Ptr(path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  github.Ptr(blob.GetSHA()),
		})
		return nil
	}
	for _, fw := range cs.FileWrites {
		if err := write(fw.Path, fw.Content); err != nil {
			return blobSet{}, err
		}
	}
	for _, tw := range cs.TestWrites {
		if err := write(tw.Path, tw.Content); err != nil {
			return blobSet{}, err
		}
	}
	return set, nil
}

// buildTree applies every path->blob mapping in one tree write on top of
// the base tree (step 4). One tree, one commit: a reader never observes a
// commit containing only some of the files.
func (p *Publisher) buildTree(ctx context.Context, key statestore.IssueKey, tip baseTip, blobs blobSet) (newTree, error) {
	tree, _, err := p.gh.Git.CreateTree(ctx, key.Owner, key.Repo, tip.treeSHA, blobs.entries)
	if err != nil {
		return newTree{}, &Error{Step: "create tree", Err: err}
	}
	return newTree{sha: tree.GetSHA(), tip: tip}, nil
}

// createCommit writes the commit object with the base tip as parent (step 5).
func (p *Publisher) createCommit(ctx context.Context, key statestore.IssueKey, tree newTree, cs *collaborator.ChangeSet) (newCommit, error) {
	message := fmt.Sprintf("%s\n\n%s\n\nCloses #%d", cs.Title, cs.Summary, key.Number)
	commit, _, err := p.gh.Git.CreateCommit(ctx, key.Owner, key.Repo, github.Commit{
		Message: github.Ptr(message),
		Tree:    &github.Tree{SHA: github.Ptr(tree.sha)},
		Parents: []*github.Commit{{SHA: github.Ptr(tree.tip.commitSHA)}},
	}, nil)
	if err != nil {
		return newCommit{}, &Error{Step: "create commit", Err: err}
	}
	return newCommit{sha: commit.GetSHA()}, nil
}

// advanceRef points the work branch at the new commit (step 6). This is
// the first externally visible mutation; pointing the ref at a commit it
// already references counts as success.
func (p *Publisher) advanceRef(ctx context.Context, key statestore.IssueKey, branch workBranch, commit newCommit) error {
	ref, _, err := p.gh.Git.UpdateRef(ctx, key.Owner, key.Repo, branch.ref, github.UpdateRef{
		SHA:   commit.sha,
		Force: github.Ptr(true),
	})
	switch {
	case err == nil:
		return nil
	case isAlreadyExists(err):
		return nil
	case ref.GetObject().GetSHA() == commit.sha:
		return nil
	default:
		return &Error{Step: "update work branch", Err: err}
	}
}

// ensurePR opens the pull request (step 7), reusing an open PR for the
// branch when one exists. Reuse refreshes the PR title and body so the
// latest attempt's description wins.
func (p *Publisher) ensurePR(ctx context.Context, key statestore.IssueKey, branchName, baseBranch string, commit newCommit, cs *collaborator.ChangeSet, existing *PublishedChange) (*PublishedChange, error) {
	body := fmt.Sprintf("%s\n\n---\nCloses #%d\n\n_Automated by %s._", cs.Description, key.Number, p.identity)

	if existing != nil {
		if _, _, err := p.gh.PullRequests.Edit(ctx, key.Owner, key.Repo, existing.PRNumber, &github.PullRequest{
			Title: github.Ptr(cs.Title),
			Body:  github.Ptr(body),
		}); err != nil {
			clog.FromContext(ctx).With("error", err).Warn("Failed to refresh existing pull request")
		}
		existing.Branch = branchName
		existing.CommitSHA = commit.sha
		return existing, nil
	}

	pr, _, err := p.gh.PullRequests.Create(ctx, key.Owner, key.Repo, &github.NewPullRequest{
		Title: github.Ptr(cs.Title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(branchName),
		Base:  github.Ptr(baseBranch),
	})
	switch {
	case err == nil:
		return &PublishedChange{
			Branch:    branchName,
			CommitSHA: commit.sha,
			PRNumber:  pr.GetNumber(),
			PRURL:     pr.GetHTMLURL(),
		}, nil
	case isAlreadyExists(err):
		// Lost a race with a concurrent attempt; the PR that won is ours.
		found, qerr := p.existingPR(ctx, key.Owner, key.Repo, branchName, baseBranch)
		if qerr != nil || found == nil {
			return nil, &Error{Step: "resolve conflicting pull request", Err: errors.Join(err, qerr)}
		}
		found.Branch = branchName
		found.CommitSHA = commit.sha
		return found, nil
	default:
		return nil, &Error{Step: "create pull request", Err: err}
	}
}

// existingPR looks up the open PR for a head branch in one GraphQL query.
func (p *Publisher) existingPR(ctx context.Context, owner, repo, headRef, baseRef string) (*PublishedChange, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number int
					Url    string
				}
			} `graphql:"pullRequests(headRefName: $headRef, baseRefName: $baseRef, states: [OPEN], first: 1)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := map[string]any{
		"owner":   githubv4.String(owner),
		"repo":    githubv4.String(repo),
		"headRef": githubv4.String(headRef),
		"baseRef": githubv4.String(baseRef),
	}
	if err := p.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying pull requests: %w", err)
	}
	if len(query.Repository.PullRequests.Nodes) == 0 {
		return nil, nil
	}
	node := query.Repository.PullRequests.Nodes[0]
	return &PublishedChange{
		PRNumber: node.Number,
		PRURL:    node.Url,
	}, nil
}

// isAlreadyExists detects the hosting API's 422 "already exists" answers,
// which the idempotent-retry rule treats as success.
func isAlreadyExists(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	if ghErr.Response == nil || ghErr.Response.StatusCode != 422 {
		return false
	}
	if strings.Contains(strings.ToLower(ghErr.Message), "already exists") {
		return true
	}
	for _, e := range ghErr.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}
